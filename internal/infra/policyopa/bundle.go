package policyopa

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

const manifestFile = "manifest.json"

// Bundle is a policy directory: rego modules, an optional data.json and an
// optional manifest.json naming the bundle and its entry query.
type Bundle struct {
	ID    string
	Query string
	// Hash covers every normative file, so a verdict can name the exact
	// policy that produced it.
	Hash  string
	Files []BundleFile
}

type BundleFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

type bundleManifest struct {
	BundleID string `json:"bundle_id"`
	Query    string `json:"query"`
}

func LoadBundle(dir string) (*Bundle, error) {
	return LoadBundleFS(os.DirFS(dir))
}

func LoadBundleFS(fsys fs.FS) (*Bundle, error) {
	files, err := normativeFiles(fsys)
	if err != nil {
		return nil, err
	}
	if !hasModule(files) {
		return nil, errors.New("policy bundle has no rego modules")
	}
	bundle := &Bundle{Query: defaultQuery, Files: files}

	raw, err := fs.ReadFile(fsys, manifestFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		var m bundleManifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", manifestFile, err)
		}
		bundle.ID = m.BundleID
		if m.Query != "" {
			if !strings.HasPrefix(m.Query, "data.") {
				return nil, fmt.Errorf("%s: query %q must reference data", manifestFile, m.Query)
			}
			bundle.Query = m.Query
		}
	}

	canonical, err := json.Marshal(struct {
		Files []BundleFile `json:"files"`
	}{files})
	if err != nil {
		return nil, err
	}
	bundle.Hash = sha256Hex(canonical)
	return bundle, nil
}

// ComputeBundleHashFromPath hashes the normative files of a bundle directory.
func ComputeBundleHashFromPath(dir string) (string, error) {
	bundle, err := LoadBundle(dir)
	if err != nil {
		return "", err
	}
	return bundle.Hash, nil
}

func normativeFiles(fsys fs.FS) ([]BundleFile, error) {
	files := []BundleFile{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == "." {
			return nil
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !isNormative(d.Name()) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		files = append(files, BundleFile{Path: p, SHA256: sha256Hex(data)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func hasModule(files []BundleFile) bool {
	for _, f := range files {
		if isModule(f.Path) {
			return true
		}
	}
	return false
}

func skipDir(name string) bool {
	return name == "__MACOSX" || name == "vendor" || strings.HasPrefix(name, ".")
}

func isModule(name string) bool {
	return path.Ext(name) == ".rego" && !strings.HasPrefix(path.Base(name), ".")
}

func isNormative(name string) bool {
	return name == "data.json" || name == manifestFile || isModule(name)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
