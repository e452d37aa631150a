package app

import (
	"encoding/json"
	"fmt"
	"strings"

	clierr "github.com/hopwise/traderoute/internal/errors"
)

func (s *runtimeState) emit(data any, plain func(w *strings.Builder)) error {
	if s.settings.OutputMode == "json" {
		buf, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "encode output", err)
		}
		_, _ = fmt.Fprintln(s.runner.stdout, string(buf))
		return nil
	}
	var w strings.Builder
	plain(&w)
	_, _ = fmt.Fprint(s.runner.stdout, w.String())
	return nil
}

func (s *runtimeState) renderError(err error) {
	code := clierr.CodeOf(err)
	if s.settings.OutputMode == "json" {
		payload := map[string]any{
			"error": map[string]any{
				"code":    int(code),
				"message": err.Error(),
			},
		}
		buf, jsonErr := json.MarshalIndent(payload, "", "  ")
		if jsonErr == nil {
			_, _ = fmt.Fprintln(s.runner.stderr, string(buf))
			return
		}
	}
	_, _ = fmt.Fprintf(s.runner.stderr, "error: %s\n", err.Error())
}
