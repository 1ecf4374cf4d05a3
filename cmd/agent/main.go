package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	os.Exit(execute(os.Args[1:]))
}
