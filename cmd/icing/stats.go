package main

import (
	"fmt"

	"gopkg.in/urfave/cli.v1"
)

var statsCommand = cli.Command{
	Name:   "stats",
	Usage:  "print optimize info and known namespaces",
	Action: runStats,
}

func runStats(ctx *cli.Context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}

	info, err := e.GetOptimizeInfo()
	if err != nil {
		return err
	}
	fmt.Printf("total_documents=%d optimizable_documents=%d\n", info.TotalDocumentCount, info.OptimizableDocumentCount)

	namespaces, err := e.GetAllNamespaces()
	if err != nil {
		return err
	}
	fmt.Printf("namespaces=%v\n", namespaces)
	return nil
}
