// Command schema-generator regenerates schema/environments.schema.json
// from config.EnvironmentsConfig's field reflection. Run it after
// changing the config package's struct fields so the embedded schema
// validator.go compiles against stays in sync by hand otherwise.
package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/grovetools/companion/config"
)

func main() {
	schemaBytes, err := config.GenerateSchema()
	if err != nil {
		log.Fatalf("error generating schema: %v", err)
	}

	outputDir := "schema"
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		log.Fatalf("error creating schema directory: %v", err)
	}

	outputPath := filepath.Join(outputDir, "environments.schema.json")
	if err := os.WriteFile(outputPath, schemaBytes, 0644); err != nil {
		log.Fatalf("error writing schema file: %v", err)
	}

	log.Printf("successfully generated schema at %s", outputPath)
}
