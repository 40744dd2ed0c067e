package migrations

import (
	"embed"
	"io/fs"
)

// Files 暴露所有方言的 SQL 迁移文件。
//
//go:embed mysql/*.sql sqlite/*.sql
var Files embed.FS

// For 返回指定方言目录下的迁移文件。
func For(dialect string) (fs.FS, error) {
	return fs.Sub(Files, dialect)
}
