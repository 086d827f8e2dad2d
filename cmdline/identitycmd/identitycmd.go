/*
 * Copyright (c) SAS Institute Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package identitycmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/howeyc/gopass"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sassoftware/ipasign/cmdline/shared"
	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/store"
)

var IdentityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage signing identities",
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored identities",
	Args:  cobra.NoArgs,
	RunE:  listCmd,
}

var SelectCmd = &cobra.Command{
	Use:   "select <index|nickname>",
	Short: "Select the identity used for signing",
	Args:  cobra.ExactArgs(1),
	RunE:  selectCmd,
}

var ImportCmd = &cobra.Command{
	Use:   "import --p12 <file> --profile <file>",
	Short: "Import a PKCS#12 certificate and provisioning profile",
	Args:  cobra.NoArgs,
	RunE:  importCmd,
}

var RemoveCmd = &cobra.Command{
	Use:   "remove <index|nickname>",
	Short: "Remove a stored identity",
	Args:  cobra.ExactArgs(1),
	RunE:  removeCmd,
}

var FlagCmd = &cobra.Command{
	Use:   "flag <index|nickname>",
	Short: "Mark an identity as revoked or as needing PPQ protection",
	Args:  cobra.ExactArgs(1),
	RunE:  flagCmd,
}

var (
	argP12           string
	argProfile       string
	argNickname      string
	argPasswordStdin bool
	argPPQCheck      bool
	argRevoked       bool
)

func init() {
	shared.RootCmd.AddCommand(IdentityCmd)
	IdentityCmd.AddCommand(ListCmd, SelectCmd, ImportCmd, RemoveCmd, FlagCmd)

	ImportCmd.Flags().StringVar(&argP12, "p12", "", "PKCS#12 file holding the certificate and key")
	ImportCmd.Flags().StringVar(&argProfile, "profile", "", "Provisioning profile (.mobileprovision)")
	ImportCmd.Flags().StringVar(&argNickname, "nickname", "", "Name to show for the identity")
	ImportCmd.Flags().BoolVar(&argPasswordStdin, "password-stdin", false, "Read the PKCS#12 password from stdin")
	ImportCmd.Flags().BoolVar(&argPPQCheck, "ppq-check", false, "The certificate is subject to PPQ checks")
	_ = ImportCmd.MarkFlagRequired("p12")

	FlagCmd.Flags().BoolVar(&argPPQCheck, "ppq-check", false, "The certificate is subject to PPQ checks")
	FlagCmd.Flags().BoolVar(&argRevoked, "revoked", false, "The certificate has been revoked")
}

func listCmd(cmd *cobra.Command, args []string) error {
	st, err := shared.OpenStore()
	if err != nil {
		return err
	}
	pool, err := st.List()
	if err != nil {
		return err
	}
	selected, err := st.SelectedIndex()
	if err != nil {
		return err
	}
	return writeTable(os.Stdout, pool, selected, time.Now())
}

func writeTable(w io.Writer, pool []*identity.Identity, selected int, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tINDEX\tNICKNAME\tEXPIRES\tSTATUS")
	for i, ident := range pool {
		mark := ""
		if i == selected {
			mark = "*"
		}
		expires := "-"
		if !ident.Expiration.IsZero() {
			expires = ident.Expiration.Local().Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", mark, i, ident.Nickname, expires, status(ident, now))
	}
	return tw.Flush()
}

func status(ident *identity.Identity, now time.Time) string {
	var flags []string
	if ident.Revoked {
		flags = append(flags, "revoked")
	} else if ident.Expired(now) {
		flags = append(flags, "expired")
	}
	if ident.PPQCheck {
		flags = append(flags, "ppq-check")
	}
	if len(flags) == 0 {
		return "ok"
	}
	return strings.Join(flags, ",")
}

// lookup finds an identity by its list index or nickname
func lookup(pool []*identity.Identity, arg string) (int, error) {
	if idx, err := strconv.Atoi(arg); err == nil {
		if idx < 0 || idx >= len(pool) {
			return 0, fmt.Errorf("no identity at index %d", idx)
		}
		return idx, nil
	}
	found := -1
	for i, ident := range pool {
		if ident.Nickname == arg {
			if found >= 0 {
				return 0, fmt.Errorf("more than one identity is named %q; use its index", arg)
			}
			found = i
		}
	}
	if found < 0 {
		return 0, fmt.Errorf("no identity named %q", arg)
	}
	return found, nil
}

func selectCmd(cmd *cobra.Command, args []string) error {
	st, err := shared.OpenStore()
	if err != nil {
		return err
	}
	pool, err := st.List()
	if err != nil {
		return err
	}
	idx, err := lookup(pool, args[0])
	if err != nil {
		return err
	}
	if err := pool[idx].Check(time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", pool[idx].Nickname, err)
	}
	return st.SetSelectedIndex(idx)
}

func importCmd(cmd *cobra.Command, args []string) error {
	st, err := shared.OpenStore()
	if err != nil {
		return err
	}
	password, err := readPassword()
	if err != nil {
		return err
	}
	ident, err := identity.ImportPKCS12(argP12, argProfile, password, argNickname)
	if err != nil {
		return err
	}
	ident.PPQCheck = argPPQCheck
	keys := store.Keyring{}
	if err := keys.SetPassword(ident.ID, password); err != nil {
		return fmt.Errorf("saving password to keyring: %w", err)
	}
	if err := st.Add(ident); err != nil {
		_ = keys.DeletePassword(ident.ID)
		return err
	}
	// new identities go to the front, so the selection moves with the list
	selected, err := st.SelectedIndex()
	if err == nil {
		pool, _ := st.List()
		if len(pool) > 1 {
			err = st.SetSelectedIndex(selected + 1)
		}
	}
	fmt.Fprintf(os.Stderr, "imported %s, expires %s\n", ident.Nickname, ident.Expiration.Local().Format("2006-01-02"))
	return err
}

func readPassword() (string, error) {
	if argPasswordStdin || !term.IsTerminal(int(os.Stdin.Fd())) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, "Password for PKCS#12 file: ")
	password, err := gopass.GetPasswd()
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func removeCmd(cmd *cobra.Command, args []string) error {
	st, err := shared.OpenStore()
	if err != nil {
		return err
	}
	pool, err := st.List()
	if err != nil {
		return err
	}
	idx, err := lookup(pool, args[0])
	if err != nil {
		return err
	}
	ident := pool[idx]
	if err := st.Remove(ident.ID); err != nil {
		return err
	}
	return store.Keyring{}.DeletePassword(ident.ID)
}

func flagCmd(cmd *cobra.Command, args []string) error {
	st, err := shared.OpenStore()
	if err != nil {
		return err
	}
	pool, err := st.List()
	if err != nil {
		return err
	}
	idx, err := lookup(pool, args[0])
	if err != nil {
		return err
	}
	f := cmd.Flags()
	return st.Update(pool[idx].ID, func(ident *identity.Identity) {
		if f.Changed("ppq-check") {
			ident.PPQCheck = argPPQCheck
		}
		if f.Changed("revoked") {
			ident.Revoked = argRevoked
		}
	})
}
