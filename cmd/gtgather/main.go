// Command gtgather queries an array across a group of participants and
// prints the gathered variants at rank 0.
//
// A group runs either in one process (gtgather local) or as one
// coordinator process plus one worker process per remaining rank talking
// HTTP (gtgather coordinator / gtgather worker).
package main

import (
	"fmt"
	"os"
)

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "gtgather:", err)
	}
	os.Exit(exitCode(err))
}
