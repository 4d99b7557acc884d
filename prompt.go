package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"nmfstore/internal/secret"
	"nmfstore/internal/storage/network"
)

// termPrompt asks for network credentials on the controlling terminal.
// Without a terminal it declines, so the request fails as auth required.
func termPrompt(in *os.File, out io.Writer) network.Prompt {
	var mu sync.Mutex
	return func(ctx context.Context, ep network.Endpoint) (*secret.Credential, bool, error) {
		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			debugPrint("no terminal for %s credentials", ep.Key())
			return nil, false, nil
		}
		mu.Lock()
		defer mu.Unlock()
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		return askCredential(bufio.NewReader(in), out, ep, func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			return string(b), err
		})
	}
}

// askCredential runs the login dialog; an empty user name declines.
func askCredential(r *bufio.Reader, out io.Writer, ep network.Endpoint, readPassword func() (string, error)) (*secret.Credential, bool, error) {
	fmt.Fprintf(out, "Login: %s\n", ep.Key())
	cred := &secret.Credential{}
	var err error
	if ep.Scheme == "smb" {
		if cred.Domain, err = ask(r, out, "Domain (optional): "); err != nil {
			return nil, false, err
		}
	}
	if cred.User, err = ask(r, out, "Username: "); err != nil || cred.User == "" {
		return nil, false, err
	}
	fmt.Fprint(out, "Password: ")
	if cred.Password, err = readPassword(); err != nil {
		return nil, false, err
	}
	save, err := ask(r, out, "Save to keyring? [y/N]: ")
	if err != nil {
		return nil, false, err
	}
	persist := strings.EqualFold(save, "y") || strings.EqualFold(save, "yes")
	return cred, persist, nil
}

func ask(r *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
