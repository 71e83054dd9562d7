package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wastedraft/internal/staging"
)

const maxLocalFileBytes = 20 << 20

// Categories the portal form shows, with how many files each may hold.
var defaultCategories = map[string]int{
	"weighing": 10,
	"vehicle":  1,
	"site":     10,
}

var allowedTypes = []string{"image/*", "application/pdf"}

type attachSpec struct {
	Category string
	Path     string
}

type replaceSpec struct {
	FileID string
	Path   string
}

type moveSpec struct {
	Category string
	From     int // 1-based
	To       int // 1-based
}

func parseAttach(raw string) (attachSpec, error) {
	category, path, ok := strings.Cut(raw, "=")
	category, path = strings.TrimSpace(category), strings.TrimSpace(path)
	if !ok || category == "" || path == "" {
		return attachSpec{}, fmt.Errorf("invalid --attach %q: expected category=path", raw)
	}
	return attachSpec{Category: category, Path: path}, nil
}

func parseReplace(raw string) (replaceSpec, error) {
	id, path, ok := strings.Cut(raw, "=")
	id, path = strings.TrimSpace(id), strings.TrimSpace(path)
	if !ok || id == "" || path == "" {
		return replaceSpec{}, fmt.Errorf("invalid --replace %q: expected file-id=path", raw)
	}
	return replaceSpec{FileID: id, Path: path}, nil
}

func parseMove(raw string) (moveSpec, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
		return moveSpec{}, fmt.Errorf("invalid --move %q: expected category:from:to", raw)
	}
	from, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || from < 1 {
		return moveSpec{}, fmt.Errorf("invalid --move %q: from must be a positive number", raw)
	}
	to, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil || to < 1 {
		return moveSpec{}, fmt.Errorf("invalid --move %q: to must be a positive number", raw)
	}
	return moveSpec{Category: strings.TrimSpace(parts[0]), From: from, To: to}, nil
}

// loadLocalFiles reads paths concurrently. The result keeps the input order.
func loadLocalFiles(ctx context.Context, paths []string) ([]staging.LocalFile, error) {
	out := make([]staging.LocalFile, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := readLocalFile(p)
			if err != nil {
				return err
			}
			out[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func readLocalFile(path string) (staging.LocalFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return staging.LocalFile{}, fmt.Errorf("read %s: %w", path, err)
	}
	return staging.LocalFile{
		Name:     filepath.Base(path),
		MimeType: detectMimeType(path, data),
		Data:     data,
	}, nil
}

func detectMimeType(path string, data []byte) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
		return mt
	}
	mt := http.DetectContentType(data)
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base
	}
	return mt
}

// groupCapacities merges the default categories with any extra ones the
// command touches. Unknown categories get fallback as their capacity.
func groupCapacities(fallback int, extra ...string) map[string]int {
	caps := make(map[string]int, len(defaultCategories)+len(extra))
	for k, v := range defaultCategories {
		caps[k] = v
	}
	for _, c := range extra {
		if _, ok := caps[c]; !ok && c != "" {
			caps[c] = fallback
		}
	}
	return caps
}

// newGroups builds one staging manager per category, in name order. Each
// manager adds its own category field to logger.
func newGroups(caps map[string]int, deleter staging.Deleter, logger *zap.Logger) []*staging.Manager {
	groups := make([]*staging.Manager, 0, len(caps))
	for _, category := range sortedKeys(caps) {
		groups = append(groups, staging.NewManager(
			staging.Config{
				Category:   category,
				Capacity:   caps[category],
				Validators: []staging.Validator{staging.MaxSize(maxLocalFileBytes), staging.AllowTypes(allowedTypes...)},
			},
			staging.WithDeleter(deleter),
			staging.WithLogger(logger),
		))
	}
	return groups
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
