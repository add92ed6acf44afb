// chattoken mints bearer tokens and password hashes for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/eldtechnologies/coursechat/internal/auth"
	"github.com/eldtechnologies/coursechat/internal/ids"
	"github.com/eldtechnologies/coursechat/internal/models"
)

func main() {
	_ = godotenv.Load()

	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HMAC secret (defaults to $JWT_SECRET)")
	userID := flag.String("user", "", "User id (a new UUID when empty)")
	userType := flag.String("type", string(models.UserStudent), "User type: admin, instructor or student")
	name := flag.String("name", "", "Display name")
	ttl := flag.Duration("ttl", auth.DefaultTTL, "Token lifetime")
	hash := flag.String("hash", "", "Print the bcrypt hash of this password and exit")
	flag.Parse()

	if *hash != "" {
		h, err := auth.HashPassword(*hash)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "Usage: chattoken -secret <secret> [-user <id>] [-type student] [-name <name>] [-ttl 24h]")
		fmt.Fprintln(os.Stderr, "       chattoken -hash <password>")
		os.Exit(1)
	}

	t := models.UserType(*userType)
	if !t.Valid() {
		fmt.Fprintf(os.Stderr, "Unknown user type: %s\n", *userType)
		os.Exit(1)
	}
	if *userID == "" {
		*userID = ids.NewUserID()
	}

	user := &models.User{ID: *userID, Name: *name, Type: t}
	token, err := auth.IssueToken(user, []byte(*secret), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("# user %s (%s), expires %s\n", user.ID, user.Type, time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Printf("export CHAT_USER_ID=%s\n", user.ID)
	fmt.Printf("export CHAT_USER_TYPE=%s\n", user.Type)
	fmt.Printf("export CHAT_TOKEN=%s\n", token)
}
