package main

import "github.com/MeKo-Tech/elevationmap/internal/cmd"

func main() {
	cmd.Execute()
}
