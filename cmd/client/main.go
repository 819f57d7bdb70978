package main

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/atinyakov/qrmenu/internal/client/api"
	"github.com/atinyakov/qrmenu/internal/models"
)

var (
	version   string
	buildDate string
)

const commandTimeout = 30 * time.Second

const helpText = `Available commands:
  users                   list approved and pending users
  approve <user>          approve a pending registration
  reject <user>           reject a pending registration
  delete <user>           remove an approved user
  passwd <user>           set a new password
  migrate                 convert a legacy users.json
  menu-pull <file>        save the menu to a local JSON file
  menu-push <file>        replace the menu with a local JSON file
  help, exit`

// repl runs the interactive admin shell until exit or end of input.
func repl(c *api.Client, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "menu[%s]> ", c.Tenant)
		if !scanner.Scan() {
			break
		}
		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			fmt.Fprintln(out, "Bye")
			return
		}
		if args[0] == "passwd" && len(args) == 2 {
			fmt.Fprint(out, "New password: ")
			if !scanner.Scan() {
				break
			}
			args = append(args, strings.TrimSpace(scanner.Text()))
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		err := run(ctx, c, args, out)
		cancel()
		if err != nil {
			fmt.Fprintln(out, "Error:", err)
		}
	}
}

func run(ctx context.Context, c *api.Client, args []string, out io.Writer) error {
	arg := func() (string, error) {
		if len(args) < 2 {
			return "", fmt.Errorf("usage: %s <arg>", args[0])
		}
		return args[1], nil
	}

	switch args[0] {
	case "help":
		fmt.Fprintln(out, helpText)
	case "users":
		users, err := c.ListUsers(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Allowed: %s\n", strings.Join(users.Allowed, ", "))
		fmt.Fprintf(out, "Pending: %s\n", strings.Join(users.Pending, ", "))
		if users.Passwords != nil {
			fmt.Fprintf(out, "With password: %s\n", strings.Join(users.Passwords, ", "))
		}
	case "approve", "reject", "delete":
		user, err := arg()
		if err != nil {
			return err
		}
		op := map[string]func(context.Context, string) (*api.Change, error){
			"approve": c.Approve,
			"reject":  c.Reject,
			"delete":  c.Delete,
		}[args[0]]
		ch, err := op(ctx, user)
		if err != nil {
			return err
		}
		if ch.Changed {
			fmt.Fprintf(out, "%s: %s done\n", ch.Username, args[0])
		} else {
			fmt.Fprintf(out, "%s: nothing to do\n", ch.Username)
		}
	case "passwd":
		if len(args) < 3 {
			return errors.New("usage: passwd <user>")
		}
		if err := c.SetPassword(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintln(out, "Password updated")
	case "migrate":
		res, err := c.Migrate(ctx)
		if err != nil {
			return err
		}
		if !res.Migrated {
			fmt.Fprintln(out, "Already migrated")
			return nil
		}
		fmt.Fprintf(out, "Migrated %d passwords and %d pending users\n", res.Passwords, res.Pending)
	case "menu-pull":
		path, err := arg()
		if err != nil {
			return err
		}
		items, err := c.GetMenu(ctx)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved %d items to %s\n", len(items), path)
	case "menu-push":
		path, err := arg()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var items []models.MenuItem
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		stored, err := c.SaveMenu(ctx, items)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Committed %d items to %s\n", len(items), stored)
	default:
		fmt.Fprintln(out, "Unknown command. Type 'help' for a list of commands.")
	}
	return nil
}

func main() {
	var (
		baseURL string
		tenant  string
		secret  string
		showVer bool
	)

	flag.StringVar(&baseURL, "server", "http://localhost:8080", "server base URL")
	flag.StringVar(&tenant, "tenant", "speisekarte", "tenant slug")
	flag.StringVar(&secret, "secret", os.Getenv("ADMIN_SECRET"), "admin secret (defaults to $ADMIN_SECRET)")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("Menu admin client\nVersion: %s\nBuild Date: %s\n", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
		return
	}
	if secret == "" {
		log.Fatal("please provide -secret or set ADMIN_SECRET")
	}

	repl(api.New(baseURL, tenant, secret), os.Stdin, os.Stdout)
}
