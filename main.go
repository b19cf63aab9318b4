// ./main.go
package main

import (
	"github.com/xkilldash9x/pagelens/cmd"
)

func main() {
	cmd.Execute()
}
