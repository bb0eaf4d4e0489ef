package backup

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PgDumper shells out to the PostgreSQL client tools using the custom
// archive format.
type PgDumper struct {
	DatabaseURL string
	DumpPath    string
	RestorePath string
}

func (d PgDumper) Dump(ctx context.Context, dst string) error {
	return run(ctx, d.DumpPath, "-Fc", "--no-owner", "--file", dst, "--dbname", d.DatabaseURL)
}

func (d PgDumper) Restore(ctx context.Context, src string) error {
	return run(ctx, d.RestorePath, "--clean", "--if-exists", "--no-owner", "--dbname", d.DatabaseURL, src)
}

func run(ctx context.Context, bin string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", bin, err, msg)
		}
		return fmt.Errorf("%s: %w", bin, err)
	}
	return nil
}
