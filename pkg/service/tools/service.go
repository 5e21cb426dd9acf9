// Package tools provides the helper commands of the cli.
package tools

import (
	"context"
)

type Service interface {
	CreateConfig(ctx context.Context, filePath string, config string) error
}
