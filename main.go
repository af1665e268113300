// ./main.go
package main

import "github.com/xkilldash9x/depthlens/cmd"

func main() {
	cmd.Execute()
}
