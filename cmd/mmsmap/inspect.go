package main

import (
	"fmt"

	"github.com/spf13/cobra"

	iec61850 "github.com/marrasen/iec61850server"
)

var (
	flatSpecs    bool
	showDataSets bool
	ldFilter     string
)

var compileCmd = &cobra.Command{
	Use:   "compile [MODEL]",
	Short: "Compile a model and print the MMS type of every logical node",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

var varsCmd = &cobra.Command{
	Use:   "vars [MODEL]",
	Short: "List the MMS named variables of every logical device",
	Args:  cobra.ExactArgs(1),
	RunE:  runVars,
}

var valuesCmd = &cobra.Command{
	Use:   "values [MODEL]",
	Short: "Print every leaf variable with its initial value",
	Args:  cobra.ExactArgs(1),
	RunE:  runValues,
}

func init() {
	compileCmd.Flags().BoolVar(&flatSpecs, "flat", false, "Print each logical node on one line")
	varsCmd.Flags().BoolVar(&showDataSets, "datasets", false, "Also list the data sets and their members")
	varsCmd.Flags().StringVar(&ldFilter, "ld", "", "Only list this logical device")
}

func runCompile(cmd *cobra.Command, args []string) error {
	m, err := compileModel(args[0], serverConfig())
	if err != nil {
		return err
	}
	for _, d := range m.Domains() {
		fmt.Printf("Domain %s\n", d.Name)
		for _, spec := range d.NamedVariables() {
			if flatSpecs {
				fmt.Printf("  %s: %s\n", spec.Name, spec)
				continue
			}
			fmt.Println(spec.Tree())
		}
	}
	return nil
}

func runVars(cmd *cobra.Command, args []string) error {
	m, err := compileModel(args[0], serverConfig())
	if err != nil {
		return err
	}
	for _, ld := range m.LogicalDeviceList() {
		if ldFilter != "" && ld != ldFilter {
			continue
		}
		vars, err := m.LogicalDeviceVariables(ld)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%d variables)\n", ld, len(vars))
		for _, v := range vars {
			fmt.Printf("  %s\n", v)
		}
		if !showDataSets {
			continue
		}
		dataSets, err := m.LogicalDeviceDataSets(ld)
		if err != nil {
			return err
		}
		for _, name := range dataSets {
			members, err := m.DataSetDirectory(ld + "/" + name)
			if err != nil {
				return err
			}
			fmt.Printf("  data set %s\n", name)
			for _, member := range members {
				fmt.Printf("    %s\n", member)
			}
		}
	}
	return nil
}

func runValues(cmd *cobra.Command, args []string) error {
	m, err := compileModel(args[0], serverConfig())
	if err != nil {
		return err
	}
	list, err := m.VariableValues()
	if err != nil {
		return err
	}
	for _, v := range list {
		fmt.Printf("%s: %v\n", v.Ref, formatValue(v))
	}
	return nil
}

func formatValue(v iec61850.VariableTypeValue) any {
	if v.Type == iec61850.OctetString {
		return fmt.Sprintf("% x", v.Value)
	}
	return v.Value
}
