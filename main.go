package main

import "github.com/ValentinKolb/rkv/cmd"

func main() {
	cmd.Execute()
}
