package main

import (
	"os"

	tool "github.com/sandeepkv93/reading-diary/internal/tools/sessions"
	"github.com/sandeepkv93/reading-diary/internal/tools/common"
)

func main() {
	if err := tool.NewRootCommand().Execute(); err != nil {
		os.Exit(common.ExitCodeFailed)
	}
}
