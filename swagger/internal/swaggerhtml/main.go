package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"html"
	"io"
	"os"
)

func main() {
	specPath := flag.String("spec", "", "path to swagger.json")
	outPath := flag.String("out", "", "path to generated swagger HTML")
	title := flag.String("title", "API reference", "HTML page title")
	flag.Parse()

	if *specPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: swaggerhtml -spec swagger.json -out swagger.html [-title T]")
		os.Exit(2)
	}
	specBytes, err := os.ReadFile(*specPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read spec: %v\n", err)
		os.Exit(1)
	}
	out, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create html: %v\n", err)
		os.Exit(1)
	}
	if err := render(out, *title, specBytes); err != nil {
		_ = out.Close()
		fmt.Fprintf(os.Stderr, "render: %v\n", err)
		os.Exit(1)
	}
	if err := out.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "write html: %v\n", err)
		os.Exit(1)
	}
}

// render writes a self contained Swagger UI page embedding spec.
func render(w io.Writer, title string, spec []byte) error {
	var compact bytes.Buffer
	if err := json.Compact(&compact, spec); err != nil {
		return fmt.Errorf("compact spec: %w", err)
	}
	_, err := fmt.Fprintf(w, pageTemplate, html.EscapeString(title), compact.String())
	return err
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>%s</title>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  <style>
    body { margin: 0; background: #f7f7f7; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-standalone-preset.js"></script>
  <script>
    window.onload = function() {
      const spec = %s;
      SwaggerUIBundle({
        spec: spec,
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
        layout: 'BaseLayout'
      });
    };
  </script>
</body>
</html>
`
