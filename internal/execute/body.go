package execute

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
	"github.com/unkn0wn-root/reqflow/internal/vars"
)

// scriptBody is the body text scripts see and may replace.
func scriptBody(b collection.Body) string {
	switch b.Mode {
	case collection.BodyJSON:
		return b.JSON
	case collection.BodyText:
		return b.Text
	case collection.BodyXML:
		return b.XML
	case collection.BodyGraphQL:
		if b.GraphQL != nil {
			return b.GraphQL.Query
		}
	}
	return ""
}

type payload struct {
	data        []byte
	contentType string
}

// buildBody interpolates and encodes the body. text is the script-visible
// body after the pre-request script ran.
func buildBody(b collection.Body, text string, r *vars.Resolver, baseDir string) (*payload, error) {
	switch b.Mode {
	case collection.BodyJSON:
		return &payload{data: []byte(r.ExpandJSON(text)), contentType: "application/json"}, nil
	case collection.BodyText:
		return &payload{data: []byte(r.ExpandTemplates(text)), contentType: "text/plain"}, nil
	case collection.BodyXML:
		return &payload{data: []byte(r.ExpandTemplates(text)), contentType: "application/xml"}, nil
	case collection.BodyFormURLEncoded:
		form := url.Values{}
		for _, kv := range collection.EnabledPairs(b.FormURLEncoded) {
			form.Add(r.ExpandTemplates(kv.Name), r.ExpandTemplates(kv.Value))
		}
		return &payload{data: []byte(form.Encode()), contentType: "application/x-www-form-urlencoded"}, nil
	case collection.BodyMultipartForm:
		return multipartBody(b.MultipartForm, r, baseDir)
	case collection.BodyGraphQL:
		return graphQLBody(b.GraphQL, text, r)
	case collection.BodyFile:
		path := resolvePath(baseDir, r.ExpandTemplates(b.File))
		if path == "" {
			return nil, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read body file %s", path)
		}
		return &payload{data: data, contentType: "application/octet-stream"}, nil
	default:
		return nil, nil
	}
}

// graphQLBody expands the variables text before parsing it so substituted
// values cannot break the JSON structure.
func graphQLBody(gql *collection.GraphQLBody, query string, r *vars.Resolver) (*payload, error) {
	if gql == nil {
		return nil, nil
	}
	body := map[string]any{"query": r.ExpandTemplates(query)}
	raw := strings.TrimSpace(r.ExpandJSON(gql.Variables))
	if raw != "" {
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return nil, errdef.Wrap(errdef.CodeParse, err, "parse graphql variables")
		}
		body["variables"] = parsed
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "encode graphql body")
	}
	return &payload{data: data, contentType: "application/json"}, nil
}

func multipartBody(fields []collection.MultipartField, r *vars.Resolver, baseDir string) (*payload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if !f.Enabled || strings.TrimSpace(f.Name) == "" {
			continue
		}
		name := r.ExpandTemplates(f.Name)
		value := r.ExpandTemplates(f.Value)
		if !f.File {
			if err := w.WriteField(name, value); err != nil {
				return nil, errdef.Wrap(errdef.CodeHTTP, err, "write multipart field %s", name)
			}
			continue
		}
		path := resolvePath(baseDir, value)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read multipart file %s", path)
		}
		part, err := w.CreateFormFile(name, filepath.Base(path))
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeHTTP, err, "create multipart file %s", name)
		}
		if _, err := part.Write(data); err != nil {
			return nil, errdef.Wrap(errdef.CodeHTTP, err, "write multipart file %s", name)
		}
	}
	if err := w.Close(); err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "close multipart body")
	}
	return &payload{data: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}

func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
