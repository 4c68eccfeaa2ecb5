/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log provides the structured logger threaded through context.Context
// that every component in k3rs uses instead of ad hoc fmt.Printf calls.
package log

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

var fallback = zap.NewNop().Sugar()

// IntoContext returns a new context carrying the given logger.
func IntoContext(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger previously attached with IntoContext, or a
// no-op logger if none was attached. Mirrors the teacher's
// logging.FromContext convenience so call sites never nil-check.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok && l != nil {
		return l
	}
	return fallback
}

// NewProduction builds the process-wide base logger. Errors constructing the
// zap core are treated as fatal since nothing downstream can run usefully
// without structured logging.
func NewProduction(component string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		panic("building zap logger: " + err.Error())
	}
	return l.Sugar().With("component", component)
}

// NewDevelopment builds a human-readable console logger, used by cmd/ when
// --dev is set.
func NewDevelopment(component string) *zap.SugaredLogger {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic("building zap logger: " + err.Error())
	}
	return l.Sugar().With("component", component)
}
