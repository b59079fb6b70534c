package main

import "github.com/ValentinKolb/xrdc/cmd"

func main() {
	cmd.Execute()
}
