package cmdutil

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"golang.org/x/term"
)

// interactive reports whether stdin is a terminal worth prompting on.
// cmd/ptpiphostd may run unattended with stdin redirected from
// /dev/null, in which case prompting would hang.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ResolveHostName returns a kong.Resolver that prompts for the host's
// friendly name when the flag was tagged `type:"hostname"` and left
// unset. Unlike a required credential, an empty answer is accepted: the
// friendly name is optional and defaults to empty (see
// ptpip.InitCommandRequest).
func ResolveHostName() kong.Resolver {
	return kong.ResolverFunc(func(ctx *kong.Context, parent *kong.Path, flag *kong.Flag) (interface{}, error) {
		if flag.Tag.Type != "hostname" || flag.Value.Set && !flag.Value.Target.IsZero() {
			return nil, nil
		}
		if flag.Target.Kind() != reflect.String {
			return nil, fmt.Errorf(`'hostname' type must be applied to a string not %s`, flag.Target.Type())
		}
		if !interactive() {
			return "", nil
		}

		fmt.Printf("No value has been provided for flag `%s`.\n", flag.ShortSummary())
		if flag.Help != "" {
			fmt.Println("Description: " + flag.Help)
		}
		fmt.Printf("Enter %s (leave blank for none): ", strings.ToTitle(flag.Name))

		name, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("host name could not be read: %v", err)
		}
		return strings.TrimSpace(name), nil
	})
}

// ConfirmPIN prompts the operator running cmd/ptpiphostd to read off a
// generated PIN to the person holding the device and confirm they typed
// it in. It is the interactive half of an example CreateRegisterPIN
// callback (pkg/pairing.Callbacks); the core protocol packages never call
// it directly.
func ConfirmPIN(pin int) (bool, error) {
	if !interactive() {
		return true, nil
	}
	fmt.Printf("\nDevice requesting pairing. Enter this PIN on the device: %08d\n", pin)
	fmt.Print("Press Enter once the device has accepted it, or type 'n' to cancel: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("pin confirmation could not be read: %v", err)
	}
	line = strings.TrimSpace(line)
	return line == "" || strings.EqualFold(line, "y"), nil
}

// ParsePIN validates a decimal PIN string the way pkg/pairing compares
// REGISTER's pin-code header: as a non-negative integer.
func ParsePIN(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("cmdutil: invalid pin %q", s)
	}
	return n, nil
}
