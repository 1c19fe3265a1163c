package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"kraken-gateway/internal/auth"
)

// Generates the bcrypt hash for the operator_password_hash config field.
func main() {
	var password string

	if len(os.Args) > 1 {
		password = os.Args[1]
	} else {
		fmt.Print("Operator password: ")
		reader := bufio.NewReader(os.Stdin)
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read password: %v\n", err)
			os.Exit(1)
		}
		password = strings.TrimSpace(input)
	}

	if password == "" {
		fmt.Fprintln(os.Stderr, "Password must not be empty")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nAdd to config.json under \"auth\":")
	fmt.Printf("  \"operator_password_hash\": %q\n", hash)
}
