package main

import "github.com/praetorian-inc/orgcrawler/cmd/orgquery/cmd"

func main() {
	cmd.Execute()
}
