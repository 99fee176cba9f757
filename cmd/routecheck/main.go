// Command routecheck validates a route file without starting a gateway.
// It reports every problem it can find and exits 1 when the file would be
// rejected at boot. Destinations pointing at undeclared services are
// warnings unless -strict is set, since discovery can supply them later.
package main

import (
	"flag"
	"fmt"
	"os"

	"vpc-gateway/internal/config"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: routecheck [flags] <routes.yaml>")
		flag.PrintDefaults()
	}
	strict := flag.Bool("strict", false, "treat warnings as errors")
	quiet := flag.Bool("q", false, "print problems only, no summary")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	path := flag.Arg(0)
	file, err := config.LoadRouteFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "routecheck: %v\n", err)
		os.Exit(2)
	}

	problems, warnings := check(file)
	for _, p := range problems {
		fmt.Fprintf(os.Stderr, "%s: error: %s\n", path, p)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "%s: warning: %s\n", path, w)
	}

	if len(problems) > 0 || (*strict && len(warnings) > 0) {
		os.Exit(1)
	}
	if !*quiet {
		fmt.Printf("%s: %d routes, %d services OK\n", path, len(file.Routes), len(file.Services))
	}
}

// check runs the same validation the gateway applies at boot, plus
// cross-reference checks a single spec cannot see.
func check(file *config.RouteFile) (problems, warnings []string) {
	declared := make(map[string]bool, len(file.Services))
	for _, svc := range file.Services {
		if err := svc.Validate(); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if declared[svc.ID] {
			problems = append(problems, fmt.Sprintf("service %s: declared more than once", svc.ID))
			continue
		}
		declared[svc.ID] = true
		if _, err := svc.HealthSpec(); err != nil {
			problems = append(problems, err.Error())
		}
		if len(svc.Endpoints) == 0 {
			warnings = append(warnings, fmt.Sprintf("service %s: no endpoints declared", svc.ID))
		}
	}

	seen := make(map[string]bool, len(file.Routes))
	for _, spec := range file.Routes {
		route, err := spec.ToRoute()
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if err := route.Validate(); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if seen[route.ID] {
			problems = append(problems, fmt.Sprintf("route %s: declared more than once", route.ID))
			continue
		}
		seen[route.ID] = true

		for _, dest := range route.Destinations {
			if !declared[dest.Service] {
				warnings = append(warnings,
					fmt.Sprintf("route %s: destination service %s is not declared", route.ID, dest.Service))
			}
		}
	}
	return problems, warnings
}
