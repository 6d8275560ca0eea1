// Command homechef はホームシェフ料理注文サービスのクライアントCLI。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/homechef/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "homechef:", err)
		os.Exit(1)
	}
}
