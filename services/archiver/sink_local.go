package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalSink writes invoice documents into a flat output directory.
type LocalSink struct {
	dir string
}

func NewLocalSink(dir string) (LocalSink, error) {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return LocalSink{}, fmt.Errorf("create output directory: %w", err)
	}
	return LocalSink{dir: dir}, nil
}

func (s LocalSink) Name() string {
	return "local"
}

func (s LocalSink) Deliver(ctx context.Context, inv Invoice, data []byte) (Delivery, error) {
	path := filepath.Join(s.dir, inv.Filename)
	err := os.WriteFile(path, data, 0666)
	if err != nil {
		return Delivery{}, fmt.Errorf("write invoice file: %w", err)
	}
	return Delivery{LocalPath: path}, nil
}
