package config

import (
	"context"

	"github.com/nodealert/nodealert/pkg/filewatch"
)

// Watch reloads path whenever it changes and calls onChange with each valid
// Config. If a reload fails the error is logged and the previous config
// remains active. It runs until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return filewatch.Watch(ctx, path, filewatch.DefaultDebounce, func() error {
		cfg, err := Load(path)
		if err != nil {
			return err
		}
		onChange(cfg)
		return nil
	})
}
