package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// Operator bootstrap helper: generates a fresh TOTP secret (or prints the
// current code for an existing one) and bcrypt-hashes the admin password for
// the config file.
func main() {
	password := flag.String("password", "", "admin password to hash for admin.passwordHash")
	flag.Parse()

	secret := os.Getenv("ADMIN_TOTP_SECRET")
	if secret == "" {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      "botmarket-backend",
			AccountName: "admin",
		})
		if err != nil {
			fmt.Printf("Error generating TOTP secret: %v\n", err)
			os.Exit(1)
		}
		secret = key.Secret()
		fmt.Printf("New TOTP Secret: %s\n", secret)
		fmt.Printf("Provisioning URL: %s\n", key.URL())
	} else {
		fmt.Printf("Secret: %s\n", secret)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		fmt.Printf("Error generating TOTP code: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Current TOTP Code: %s\n", code)
	fmt.Printf("Valid for: ~30 seconds\n")

	if *password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
		if err != nil {
			fmt.Printf("Error hashing password: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Password Hash: %s\n", string(hash))
	}
}
