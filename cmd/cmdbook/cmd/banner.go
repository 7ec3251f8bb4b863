package cmd

import (
	"fmt"
	"io"
)

const banner = `
                     _ _                 _    
   ___ _ __ ___   __| | |__   ___   ___ | | __
  / __| '_ ` + "`" + ` _ \ / _` + "`" + ` | '_ \ / _ \ / _ \| |/ /
 | (__| | | | | | (_| | |_) | (_) | (_) |   < 
  \___|_| |_| |_|\__,_|_.__/ \___/ \___/|_|\_\
                                              
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Admin Auth Service - Version %s\x1b[0m\n\n", Version)
}
