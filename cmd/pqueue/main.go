// Command pqueue operates persistent queues of Person records from the
// command line.
package main

import (
	"fmt"
	"os"
	"time"
)

// Person is the record type the command stores.
type Person struct {
	Name      string    `yaml:"name" bson:"name" codec:"name"`
	Birthdate time.Time `yaml:"birthdate" bson:"birthdate" codec:"birthdate"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
