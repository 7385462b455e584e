package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/stevemurr/list-sync-server/auth"
	"github.com/stevemurr/list-sync-server/config"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd NAME",
	Short: "Set a user's password in the users file",
	Long: `passwd reads a password from standard input and stores its bcrypt hash
for NAME in the configured user-file, adding the user if needed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		if cfg.UserFile == "" {
			return errors.New("no user-file configured")
		}
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		}
		password, err := readPassword(in)
		if err != nil {
			return err
		}
		if err := auth.SetPassword(cfg.UserFile, args[0], password); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s in %s\n", args[0], cfg.UserFile)
		return nil
	},
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
