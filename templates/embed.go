// Package templates embeds the bundled prompt templates for distribution.
//
// This ensures prompts are available regardless of installation method
// (Homebrew, Docker, or manual download) and keeps prompt wording out of
// Go string literals, where nobody reviews it.
//
// Usage:
//
//	prompt := templates.CollaboratorPrompt()
package templates

import "embed"

//go:embed prompts/*.txt
var fs embed.FS

// CollaboratorPrompt returns the system prompt for the freestyle
// collaborator call.
func CollaboratorPrompt() string {
	return mustRead("prompts/collaborator.txt")
}

func mustRead(name string) string {
	data, err := fs.ReadFile(name)
	if err != nil {
		// go:embed guarantees the file is present.
		panic("templates: " + err.Error())
	}
	return string(data)
}
