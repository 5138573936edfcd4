package plugin

import (
	"context"
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"indexao/pkg/capability"
	"indexao/pkg/logger"
)

// metadataMethod is the method an adapter type may declare to describe
// itself to discovery. Its body must return a Metadata composite literal.
const metadataMethod = "PluginMetadata"

var skippedUnits = map[string]bool{"base.go": true, "doc.go": true}

var nameSuffixes = []string{"Adapter", "OCR", "Translator", "Search", "Backend", "Engine"}

// DiscoverPlugins scans basePath, or the configured discovery directory when
// basePath is empty. See Discover.
func (m *Manager) DiscoverPlugins(ctx context.Context, basePath string, kinds ...capability.Kind) ([]Metadata, error) {
	if basePath == "" {
		basePath = m.discoveryDir
	}
	if basePath == "" {
		return nil, newManagerError("discover", "no discovery directory configured")
	}
	found, err := Discover(ctx, basePath, kinds, m.log)
	if err != nil {
		return nil, err
	}
	m.log.Info("discovered plugins", "count", len(found), "base", basePath)
	return found, nil
}

// Discover lists installable adapters below basePath/<kind>/ by parsing Go
// sources. Scanned files are never compiled, loaded or executed. Files that
// fail to parse are logged and skipped. Results are ordered by kind, then
// file name.
func Discover(ctx context.Context, basePath string, kinds []capability.Kind, log *slog.Logger) ([]Metadata, error) {
	if log == nil {
		log = logger.Named("discovery")
	}
	if len(kinds) == 0 {
		kinds = capability.Kinds()
	}
	type unit struct {
		path string
		kind capability.Kind
	}
	var units []unit
	for _, kind := range kinds {
		if !kind.Valid() {
			return nil, invalidKind("discover", kind)
		}
		dir := filepath.Join(basePath, string(kind))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Debug("adapter directory not found", "kind", kind, "dir", dir)
			} else {
				log.Warn("failed to read adapter directory", "kind", kind, "dir", dir, "error", err)
			}
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !isCandidateUnit(entry.Name()) {
				continue
			}
			units = append(units, unit{path: filepath.Join(dir, entry.Name()), kind: kind})
		}
	}

	results := make([]*Metadata, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, u := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			md, err := extractMetadata(u.path, u.kind)
			if err != nil {
				log.Warn("failed to parse adapter source", "path", u.path, "error", err)
				return nil
			}
			if md != nil {
				log.Debug("discovered plugin", "kind", u.kind, "name", md.Name, "path", u.path)
			}
			results[i] = md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Metadata, 0, len(results))
	for _, md := range results {
		if md != nil {
			out = append(out, *md)
		}
	}
	return out, nil
}

func isCandidateUnit(name string) bool {
	if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
		return false
	}
	if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
		return false
	}
	return !skippedUnits[name]
}

// extractMetadata returns the metadata of the first adapter type declared
// in path, or nil when there is none.
func extractMetadata(path string, kind capability.Kind) (*Metadata, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	spec, doc := firstAdapterType(file)
	if spec == nil {
		return nil, nil
	}
	md := DefaultMetadata(PluginName(spec.Name.Name), kind)
	md.Description = firstLine(doc)
	if lit := declaredMetadata(file, spec.Name.Name); lit != nil {
		applyLiteral(&md, lit)
	}
	return &md, nil
}

func firstAdapterType(file *ast.File) (*ast.TypeSpec, *ast.CommentGroup) {
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, s := range gd.Specs {
			ts, ok := s.(*ast.TypeSpec)
			if !ok || !strings.HasSuffix(ts.Name.Name, "Adapter") {
				continue
			}
			doc := ts.Doc
			if doc == nil && !gd.Lparen.IsValid() {
				doc = gd.Doc
			}
			return ts, doc
		}
	}
	return nil, nil
}

func firstLine(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	text := strings.TrimSpace(doc.Text())
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// declaredMetadata finds `return Metadata{...}` in the PluginMetadata
// method of typeName.
func declaredMetadata(file *ast.File, typeName string) *ast.CompositeLit {
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Name.Name != metadataMethod || fd.Body == nil || receiverName(fd.Recv) != typeName {
			continue
		}
		for _, stmt := range fd.Body.List {
			ret, ok := stmt.(*ast.ReturnStmt)
			if !ok || len(ret.Results) != 1 {
				continue
			}
			expr := ret.Results[0]
			if u, ok := expr.(*ast.UnaryExpr); ok && u.Op == token.AND {
				expr = u.X
			}
			lit, ok := expr.(*ast.CompositeLit)
			if ok && isMetadataType(lit.Type) {
				return lit
			}
		}
	}
	return nil
}

func receiverName(recv *ast.FieldList) string {
	if recv == nil || len(recv.List) != 1 {
		return ""
	}
	expr := recv.List[0].Type
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	if ident, ok := expr.(*ast.Ident); ok {
		return ident.Name
	}
	return ""
}

func isMetadataType(expr ast.Expr) bool {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name == "Metadata"
	case *ast.SelectorExpr:
		return t.Sel.Name == "Metadata"
	}
	return false
}

// applyLiteral copies literal fields onto md; anything that is not a plain
// literal keeps its inferred value.
func applyLiteral(md *Metadata, lit *ast.CompositeLit) {
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		key, ok := kv.Key.(*ast.Ident)
		if !ok {
			continue
		}
		switch key.Name {
		case "Name":
			if s, ok := stringLiteral(kv.Value); ok && s != "" {
				md.Name = s
			}
		case "Version":
			if s, ok := stringLiteral(kv.Value); ok {
				md.Version = s
			}
		case "Description":
			if s, ok := stringLiteral(kv.Value); ok {
				md.Description = s
			}
		case "Dependencies":
			if deps, ok := stringsLiteral(kv.Value); ok {
				md.Dependencies = deps
			}
		case "Enabled":
			if b, ok := boolLiteral(kv.Value); ok {
				md.Enabled = b
			}
		case "Priority":
			if n, ok := intLiteral(kv.Value); ok {
				md.Priority = n
			}
		}
	}
}

func stringLiteral(expr ast.Expr) (string, bool) {
	lit, ok := expr.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	s, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return s, true
}

func intLiteral(expr ast.Expr) (int, bool) {
	negative := false
	if u, ok := expr.(*ast.UnaryExpr); ok && (u.Op == token.SUB || u.Op == token.ADD) {
		negative = u.Op == token.SUB
		expr = u.X
	}
	lit, ok := expr.(*ast.BasicLit)
	if !ok || lit.Kind != token.INT {
		return 0, false
	}
	n, err := strconv.ParseInt(lit.Value, 0, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		n = -n
	}
	return int(n), true
}

func boolLiteral(expr ast.Expr) (bool, bool) {
	ident, ok := expr.(*ast.Ident)
	if !ok {
		return false, false
	}
	switch ident.Name {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func stringsLiteral(expr ast.Expr) ([]string, bool) {
	lit, ok := expr.(*ast.CompositeLit)
	if !ok {
		return nil, false
	}
	if arr, ok := lit.Type.(*ast.ArrayType); ok {
		if elt, ok := arr.Elt.(*ast.Ident); !ok || elt.Name != "string" {
			return nil, false
		}
	}
	out := make([]string, 0, len(lit.Elts))
	for _, elt := range lit.Elts {
		s, ok := stringLiteral(elt)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// PluginName derives an adapter name from its type name by dropping the
// usual suffixes and converting CamelCase to kebab-case:
// MockOCRAdapter becomes "mock", LibreTranslateAdapter "libre-translate".
func PluginName(typeName string) string {
	for _, suffix := range nameSuffixes {
		typeName = strings.TrimSuffix(typeName, suffix)
	}
	runes := []rune(typeName)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
