// Package vault reads Markdown documents from a vault directory.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
)

// Vault is a directory of Markdown documents.
type Vault struct {
	root        string
	templateDir string
}

// NewVaultParams configures a Vault.
//
// TemplateDir overrides the template folder otherwise read from
// `.obsidian/templates.json`. Files inside it are never processed.
type NewVaultParams struct {
	Root        string
	TemplateDir string
}

// NewVault opens the vault rooted at params.Root.
func NewVault(params NewVaultParams) (*Vault, error) {
	root, err := filepath.Abs(params.Root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open vault: %s is not a directory", root)
	}

	templateDir := strings.Trim(filepath.ToSlash(params.TemplateDir), "/")
	if templateDir == "" {
		templateDir = readTemplateFolder(root)
	}

	return &Vault{root: root, templateDir: templateDir}, nil
}

// Root returns the absolute vault directory.
func (v *Vault) Root() string {
	return v.root
}

func readTemplateFolder(root string) string {
	raw, err := os.ReadFile(filepath.Join(root, ".obsidian", "templates.json"))
	if err != nil {
		return ""
	}
	var cfg struct {
		Folder string `json:"folder"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		logger.Warn("[Vault] Could not parse templates.json", "err", err)
		return ""
	}
	return strings.Trim(filepath.ToSlash(cfg.Folder), "/")
}

// Rel converts an absolute path into a vault-relative slash path.
func (v *Vault) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(v.root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return "", fmt.Errorf("%s is outside the vault", abs)
	}
	return rel, nil
}

// Abs converts a vault-relative path into an absolute path.
func (v *Vault) Abs(rel string) string {
	return filepath.Join(v.root, filepath.FromSlash(rel))
}

// Include reports whether a vault-relative path is a document the pipeline
// processes.
func (v *Vault) Include(rel string) bool {
	if !strings.EqualFold(path.Ext(rel), ".md") {
		return false
	}
	return !v.ignoredDir(path.Dir(rel)) && !strings.HasPrefix(path.Base(rel), ".")
}

// IncludeDir reports whether a vault-relative directory may contain
// documents.
func (v *Vault) IncludeDir(rel string) bool {
	return !v.ignoredDir(rel)
}

func (v *Vault) ignoredDir(rel string) bool {
	if rel == "." || rel == "" {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	if v.templateDir != "" && (rel == v.templateDir || strings.HasPrefix(rel, v.templateDir+"/")) {
		return true
	}
	return false
}

// Scan loads every document of the vault, sorted by path.
func (v *Vault) Scan(ctx context.Context) ([]common.Document, error) {
	var paths []string
	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p == v.root {
			return nil
		}
		rel, err := v.Rel(p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !v.IncludeDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && v.Include(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan vault: %w", err)
	}
	sort.Strings(paths)

	docs := make([]common.Document, 0, len(paths))
	for _, rel := range paths {
		doc, err := v.Load(rel)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Load reads one document. A broken front matter block is logged and the
// document is processed without metadata.
func (v *Vault) Load(rel string) (common.Document, error) {
	abs := v.Abs(rel)
	raw, err := os.ReadFile(abs)
	if err != nil {
		return common.Document{}, fmt.Errorf("read %s: %w", rel, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return common.Document{}, fmt.Errorf("stat %s: %w", rel, err)
	}

	content := string(raw)
	meta, body, err := SplitFrontMatter(content)
	if err != nil {
		logger.Warn("[Vault] Ignoring invalid front matter", "path", rel, "err", err)
	}

	mod := info.ModTime().UTC()
	return common.Document{
		Path:        rel,
		Label:       Label(rel),
		Content:     content,
		Body:        body,
		ContentHash: Hash(raw),
		Renames:     ParseRenames(meta),
		Links:       ExtractLinks(body),
		Metadata:    ParseMetadata(meta),
		EntityTypes: ParseEntityTypes(meta),
		CreatedAt:   mod,
		UpdatedAt:   mod,
	}, nil
}

// Hash returns the hex encoded SHA-256 fingerprint of raw.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
