/*
Package cli provides command-line interface utilities for Gatekeeper.

The cli package includes output formatters, a progress reporter, exit codes
and signal helpers used by the gatekeeper command.

Output Formatting:

Results can be rendered as text, JSON or CSV. Listings implement Tabular so
the text formatter can align them in columns and the CSV formatter can write
them row by row:

	format, err := cli.ParseOutputFormat(flags.format)
	if err != nil {
		return err
	}
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, rules); err != nil {
		return err
	}

Exit Codes:

Commands return errors and main maps them with ExitCode. ConfigError and
config.ValidationError exit with ExitConfig, everything else with
ExitFailure.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
