//go:build ignore

// Package main generates a synthetic Markdown vault for benchmarking msrl's
// indexing and search pipeline.
// Usage: go run scripts/generate-test-corpus.go -files 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of Markdown files to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var mdTemplate = `# %s

## Overview

%s provides comprehensive %s functionality for modern applications.

## Features

- **Fast Processing**: Optimized for performance
- **Type Safety**: Full TypeScript support
- **Extensible**: Plugin architecture
- **Well Documented**: Comprehensive API docs

## Installation

` + "```bash" + `
npm install %s
# or
go get github.com/example/%s
` + "```" + `

## Quick Start

` + "```go" + `
package main

import "%s"

func main() {
    client := %s.New()
    result, err := client.Process(data)
    if err != nil {
        log.Fatal(err)
    }
    fmt.Println(result)
}
` + "```" + `

## Configuration

| Option | Type | Default | Description |
|--------|------|---------|-------------|
| timeout | int | 30 | Request timeout in seconds |
| retries | int | 3 | Number of retry attempts |
| debug | bool | false | Enable debug logging |

## API Reference

### %s.New(options)

Creates a new %s instance.

**Parameters:**
- ` + "`options`" + ` - Configuration options

**Returns:** %s instance

### %s.Process(data)

Processes the input data.

**Parameters:**
- ` + "`data`" + ` - Input data to process

**Returns:** Processed result

## Error Handling

` + "```go" + `
result, err := client.Process(data)
if err != nil {
    switch e := err.(type) {
    case *%s.ValidationError:
        // Handle validation error
    case *%s.TimeoutError:
        // Handle timeout
    default:
        // Handle other errors
    }
}
` + "```" + `

## Contributing

See [CONTRIBUTING.md](CONTRIBUTING.md) for guidelines.

## License

MIT License - see [LICENSE](LICENSE) for details.
`

// Word pools for generating realistic document titles and prose.
var (
	nouns = []string{
		"Handler", "Manager", "Service", "Controller", "Processor",
		"Engine", "Client", "Server", "Worker", "Factory",
		"Builder", "Parser", "Validator", "Formatter", "Converter",
		"Cache", "Store", "Queue", "Pool", "Buffer",
		"Router", "Dispatcher", "Scheduler", "Monitor", "Logger",
		"Auth", "User", "Session", "Token", "Config",
		"Data", "Event", "Message", "Request", "Response",
	}
	domains = []string{
		"authentication", "authorization", "caching", "logging", "monitoring",
		"messaging", "scheduling", "routing", "parsing", "validation",
		"serialization", "compression", "encryption", "hashing", "indexing",
		"searching", "filtering", "sorting", "pagination", "batching",
	}
)

func main() {
	flag.Parse()
	rand.Seed(*seed)

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generating %d Markdown documents in %s...\n", *numFiles, *outputDir)

	generated := 0
	for i := 0; i < *numFiles; i++ {
		if err := generateMDFile(i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating document %d: %v\n", i, err)
			continue
		}
		generated++
	}

	fmt.Printf("Generated %d documents successfully.\n", generated)
}

func randomWord(pool []string) string {
	return pool[rand.Intn(len(pool))]
}

func generateMDFile(index int) error {
	noun := randomWord(nouns)
	domain := randomWord(domains)

	content := fmt.Sprintf(mdTemplate,
		noun,
		noun, domain,
		noun, noun, noun, noun,
		noun, noun, noun,
		noun, noun, noun,
		noun, noun,
	)

	filename := filepath.Join(*outputDir, fmt.Sprintf("%s_%d.md", noun, index))
	return os.WriteFile(filename, []byte(content), 0644)
}
