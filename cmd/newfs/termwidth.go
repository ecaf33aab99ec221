package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// termWidth returns the terminal's column count, falling back to 80
// when stdout isn't a terminal (piped/redirected output, most CI runs).
func termWidth() int {
	fd := int(os.Stdout.Fd())
	if !isatty.IsTerminal(uintptr(fd)) && !isatty.IsCygwinTerminal(uintptr(fd)) {
		return 80
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// printBackupReport renders the backup superblock sector list the way
// newfs(8) does: as many columns as fit the terminal, right-justified to
// the width of the largest sector number (spec.md §6, "super-block
// backups").
func printBackupReport(sectors []int64) {
	if len(sectors) == 0 {
		return
	}
	fmt.Println("super-block backups (for fsck -b #) at:")

	width := len(strconv.FormatInt(sectors[len(sectors)-1], 10))
	colWidth := width + 2
	cols := termWidth() / colWidth
	if cols < 1 {
		cols = 1
	}

	for i, s := range sectors {
		fmt.Printf("%*d, ", width, s)
		if (i+1)%cols == 0 {
			fmt.Println()
		}
	}
	if len(sectors)%cols != 0 {
		fmt.Println()
	}
}
