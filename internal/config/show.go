package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated
// summary to w. This powers the "config show" command. The key file is
// shown by path only.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")

	renderGoogleSection(ew, &cfg.Google)
	renderBackupSection(ew, &cfg.Backup)
	renderFormatsSection(ew, &cfg.Formats)
	renderRetrySection(ew, &cfg.Retry)
	renderLoggingSection(ew, &cfg.Logging)
	renderNetworkSection(ew, &cfg.Network)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderGoogleSection(ew *errWriter, g *GoogleConfig) {
	ew.printf("[google]\n")
	ew.printf("  domain      = %q\n", g.Domain)
	ew.printf("  admin_login = %q\n", g.AdminLogin)
	ew.printf("  key_file    = %q\n", g.KeyFile)

	if len(g.Scopes) > 0 {
		ew.printf("  scopes      = [%s]\n", joinQuoted(g.Scopes))
	}

	ew.printf("\n")
}

func renderBackupSection(ew *errWriter, b *BackupConfig) {
	ew.printf("[backup]\n")
	ew.printf("  root_dir         = %q\n", b.RootDir)
	ew.printf("  backend          = %q\n", b.Backend)

	if strings.EqualFold(b.Backend, "archive") {
		ew.printf("  compression      = %q\n", b.Compression)
	}

	ew.printf("  keep_dirs        = %t\n", b.KeepDirs)
	ew.printf("  streaming        = %t\n", b.Streaming)
	ew.printf("  keep_on_crash    = %t\n", b.KeepOnCrash)
	ew.printf("  owner_only       = %t\n", b.OwnerOnly)
	ew.printf("  retention_days   = %d\n", b.RetentionDays)
	ew.printf("  parallel_users   = %d\n", b.ParallelUsers)
	ew.printf("  chunk_size       = %q\n", b.ChunkSize)
	ew.printf("  auth_retry_pause = %q\n", b.AuthRetryPause)
	ew.printf("  max_folder_depth = %d\n", b.MaxFolderDepth)
	ew.printf("  catalog_path     = %q\n", b.CatalogFile())

	if b.SpoolDir != "" {
		ew.printf("  spool_dir        = %q\n", b.SpoolDir)
	}

	ew.printf("\n")
}

func renderFormatsSection(ew *errWriter, f *FormatsConfig) {
	ew.printf("[formats]\n")
	ew.printf("  preferred = [%s]\n", joinQuoted(f.Preferred))
	ew.printf("  exclusive = [%s]\n", joinQuoted(f.Exclusive))
	ew.printf("\n")
}

func renderRetrySection(ew *errWriter, r *RetryConfig) {
	ew.printf("[retry]\n")
	ew.printf("  attempts      = %d\n", r.Attempts)
	ew.printf("  initial_delay = %q\n", r.InitialDelay)
	ew.printf("  factor        = %g\n", r.Factor)
	ew.printf("  max_delay     = %q\n", r.MaxDelay)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)
	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  timeout    = %q\n", n.Timeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent = %q\n", n.UserAgent)
	}
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
