package main

import "github.com/praetorian-inc/orgcrawler/cmd/orgcrawler/cmd"

func main() {
	cmd.Execute()
}
