package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// prompter asks questions on out and reads answers from in. An empty answer
// keeps the default shown in brackets.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) readLine() (string, error) {
	input, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// String asks for free text.
func (p *prompter) String(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	input, err := p.readLine()
	if err != nil {
		return def, err
	}
	if input == "" {
		return def, nil
	}
	return input, nil
}

// Int asks for a positive integer and re-asks on invalid input.
func (p *prompter) Int(label string, def int) (int, error) {
	for {
		fmt.Fprintf(p.out, "%s [%d]: ", label, def)
		input, err := p.readLine()
		if err != nil {
			return def, err
		}
		if input == "" {
			return def, nil
		}
		if v, err := strconv.Atoi(input); err == nil && v > 0 {
			return v, nil
		}
		fmt.Fprintln(p.out, "  Please enter a positive integer.")
	}
}

// Int64 asks for any integer.
func (p *prompter) Int64(label string, def int64) (int64, error) {
	for {
		fmt.Fprintf(p.out, "%s [%d]: ", label, def)
		input, err := p.readLine()
		if err != nil {
			return def, err
		}
		if input == "" {
			return def, nil
		}
		if v, err := strconv.ParseInt(input, 10, 64); err == nil {
			return v, nil
		}
		fmt.Fprintln(p.out, "  Please enter an integer.")
	}
}

// Choice asks for one of options.
func (p *prompter) Choice(label string, options []string, def string) (string, error) {
	for {
		fmt.Fprintf(p.out, "%s (%s) [%s]: ", label, strings.Join(options, "/"), def)
		input, err := p.readLine()
		if err != nil {
			return def, err
		}
		if input == "" {
			return def, nil
		}
		for _, o := range options {
			if strings.EqualFold(input, o) {
				return o, nil
			}
		}
		fmt.Fprintln(p.out, "Invalid choice, please try again.")
	}
}

// YesNo asks a y/N question.
func (p *prompter) YesNo(label string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", label)
	input, err := p.readLine()
	if err != nil {
		return false, err
	}
	input = strings.ToLower(input)
	return input == "y" || input == "yes", nil
}
