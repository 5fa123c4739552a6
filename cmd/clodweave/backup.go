package main

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/rdeforest/ClodWeave/internal/config"
	"github.com/rdeforest/ClodWeave/internal/store"
)

// Top-level directories inside a backup archive.
const (
	archiveStore = "store"
	archiveNATS  = "nats"
)

func runBackup(args []string) error {
	var outputPath string
	for i := 0; i < len(args); i++ {
		if args[i] == "-f" {
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: clodweave backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	snapshotDir, err := os.MkdirTemp("", "clodweave-backup-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(snapshotDir)

	if err := db.Backup(filepath.Join(snapshotDir, filepath.Base(cfg.Store.Path))); err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	files, err := addTree(tw, archiveStore, snapshotDir)
	if err != nil {
		return fmt.Errorf("archive store: %w", err)
	}
	if _, err := os.Stat(cfg.NATS.DataDir); err == nil {
		n, err := addTree(tw, archiveNATS, cfg.NATS.DataDir)
		if err != nil {
			return fmt.Errorf("archive nats data: %w", err)
		}
		files += n
	} else {
		slog.Warn("nats data dir not found, skipping", "path", cfg.NATS.DataDir)
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	var size int64
	if info, err := os.Stat(outputPath); err == nil {
		size = info.Size()
	}
	fmt.Printf("Backup complete: %d files, %s\n", files, formatSize(size))
	return nil
}

// addTree writes every regular file and directory under root into tw,
// prefixed with prefix. It returns the number of regular files written.
func addTree(tw *tar.Writer, prefix, root string) (int, error) {
	files := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path.Join(prefix, filepath.ToSlash(rel))
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		if d.IsDir() {
			return nil
		}

		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(tw, src); err != nil {
			return fmt.Errorf("write tar data: %w", err)
		}
		files++
		return nil
	})
	return files, err
}

func runRestore(args []string) error {
	var inputPath string
	overwrite := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: clodweave restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if overwrite {
		// Stale WAL files would be replayed over the restored database.
		for _, suffix := range []string{"-wal", "-shm"} {
			if err := os.Remove(cfg.Store.Path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	dests := map[string]string{
		archiveStore: filepath.Dir(cfg.Store.Path),
		archiveNATS:  cfg.NATS.DataDir,
	}
	n, err := extractArchive(zr, dests, overwrite)
	if err != nil {
		return err
	}

	fmt.Printf("Restore complete: %d files\n", n)
	return nil
}

// extractArchive unpacks a backup stream. Each top-level directory is
// mapped to a destination through dests; unknown roots are skipped.
// Existing files are only replaced when overwrite is set.
func extractArchive(r io.Reader, dests map[string]string, overwrite bool) (int, error) {
	tr := tar.NewReader(r)
	files := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("read tar entry: %w", err)
		}

		root, rel := splitArchivePath(hdr.Name)
		dest, ok := dests[root]
		if !ok {
			if root != "" {
				slog.Warn("skipping unknown archive entry", "name", hdr.Name)
			}
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return files, fmt.Errorf("%s already exists, add -overwrite to replace files", target)
				}
			}
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return files, err
			}
			files++
		}
	}
}

func writeFile(target string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}

// splitArchivePath splits "store/clodweave.db" into ("store", "clodweave.db").
// Entries that would escape their root yield an empty root.
func splitArchivePath(name string) (root, rel string) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}

	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ""
	}

	root, rel, _ = strings.Cut(clean, "/")
	if rel == "" {
		rel = "."
	}
	return root, rel
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
