// Command admintoken mints an operator bearer token signed with
// ADMIN_TOKEN_SECRET.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"andarbahar_service/internal/auth"
	"github.com/joho/godotenv"
)

func main() {
	subject := flag.String("subject", "", "operator id recorded in the token")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		log.Fatalln("-subject is required")
	}
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file, using environment")
	}

	a, err := auth.New([]byte(os.Getenv("ADMIN_TOKEN_SECRET")))
	if err != nil {
		log.Fatalln(err)
	}
	token, err := a.Issue(*subject, *ttl)
	if err != nil {
		log.Fatalln(err)
	}
	fmt.Println(token)
}
