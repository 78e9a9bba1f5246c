/*
Package cli holds helpers shared by the warden commands.

Output Formatting:

Commands render a Table as aligned text, CSV or JSON depending on --format:

	format, err := cli.ParseFormat(flagValue)
	table := cli.Table{Headers: []string{"NAME", "RULES"}, Rows: rows, Data: summaries}
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, table); err != nil {
		return err
	}

Exit Codes:

ExitCode maps command errors to process exit codes: 2 for configuration
errors, 3 when an evaluated action is denied and 4 when it awaits approval.

Signal Handling:

	ctx, cancel := cli.SetupSignalHandler(context.Background())
	defer cancel()
*/
package cli
