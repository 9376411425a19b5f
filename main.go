package main

import "github.com/KaramelBytes/admissions-report/cmd"

func main() {
	cmd.Execute()
}
