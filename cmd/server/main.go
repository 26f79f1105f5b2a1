// Command server runs the AI小子 kids chat backend.
//
//	@title						AI小子 API
//	@version					1.0
//	@description				Kids chat assistant: chats, streaming replies, accounts, uploads, weather, search and voice.
//	@BasePath					/api
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"os"

	"github.com/aixiaozi/go-kids-chat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
