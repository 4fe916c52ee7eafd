package main

import "imgscan/cmd"

func main() {
	cmd.Execute()
}
