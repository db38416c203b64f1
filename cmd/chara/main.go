package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"chara-go/internal/app"
	"chara-go/internal/card"
	"chara-go/internal/config"
	"chara-go/internal/encryption"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a CharaApp. The caller must defer app.Close().
// The command path and its arguments are recorded with mutating operations.
func newApp(cmd *cobra.Command, args []string) (*app.CharaApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	operation := strings.TrimPrefix(cmd.CommandPath(), rootCmd.Name()+" ")
	a, err := app.NewCharaApp(cfg, operation, strings.Join(args, " "))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// parseAssignments turns FIELD=VALUE arguments into a map. Only the first
// '=' separates, so values may contain '='.
func parseAssignments(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("expected FIELD=VALUE, got %q", arg)
		}
		values[strings.TrimSpace(name)] = value
	}
	return values, nil
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

var rootCmd = &cobra.Command{
	Use:           "chara",
	Short:         "Edit character cards stored in PNG images",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])
		if dir, _ := cmd.Flags().GetString("library"); dir != "" {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving library directory: %w", err)
			}
			cfg.Library.Dir = abs
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:         %s\n", cfg.HostID)
		fmt.Printf("Base Dir:        %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		fmt.Printf("Library:         %s\n", cfg.Library.Dir)
		fmt.Printf("Chars per token: %d\n", cfg.Library.CharsPerToken)
		fmt.Printf("Database:        %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Encryption:      %s\n", cfg.Encryption.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:           %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair snapshots are encrypted to",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}

		passphrase, err := readNewPassphrase()
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("setting up keys: %w", err)
		}

		fmt.Println("Encryption keys created.")
		if pk, ok := enc.(interface{ PublicKey() (string, error) }); ok {
			if key, err := pk.PublicKey(); err == nil {
				fmt.Printf("Public key: %s\n", key)
			}
		}
		return nil
	},
}

// new command
var newCmd = &cobra.Command{
	Use:   "new NAME IMAGE",
	Short: "Create a card inside a copy of an image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.NewCard(args[0], args[1], out)
		if err != nil {
			return fmt.Errorf("creating card: %w", err)
		}
		fmt.Printf("Created %s\n", doc.Path)
		return nil
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show CARD",
	Short: "Show the card stored in an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		meta, _ := cmd.Flags().GetBool("meta")

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		if meta {
			texts, err := a.TextChunks(args[0])
			if err != nil {
				return err
			}
			keywords := make([]string, 0, len(texts))
			for k := range texts {
				keywords = append(keywords, k)
			}
			sort.Strings(keywords)
			rows := make([][]string, 0, len(keywords))
			for _, k := range keywords {
				rows = append(rows, []string{k, strconv.Itoa(len(texts[k]))})
			}
			fmt.Print(renderTable(os.Stdout, []string{"Keyword", "Length"}, rows, []columnAlignment{alignLeft, alignRight}))
			fmt.Println()
			return nil
		}

		doc, err := a.Open(args[0])
		if err != nil {
			return err
		}
		if asJSON {
			b, err := card.MarshalIndent(doc.Card)
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		}

		if !doc.HadMetadata {
			fmt.Println("Image has no card metadata.")
			return nil
		}
		d := doc.Card.Data
		fmt.Printf("Name:       %s\n", d.Name)
		fmt.Printf("Creator:    %s\n", d.Creator)
		fmt.Printf("Version:    %s\n", d.CharacterVersion)
		fmt.Printf("Tags:       %s\n", strings.Join(d.Tags, ", "))
		fmt.Printf("Greetings:  %d\n", 1+len(d.AlternateGreetings))
		if d.CharacterBook != nil {
			fmt.Printf("Lore:       %d entries\n", len(d.CharacterBook.Entries))
		}
		tokens, _, err := a.EstimateTokens(args[0], 0)
		if err != nil {
			return err
		}
		fmt.Printf("Tokens:     ~%d\n", tokens)
		return nil
	},
}

// tokens command
var tokensCmd = &cobra.Command{
	Use:   "tokens CARD",
	Short: "Estimate the token count of a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		small, _ := cmd.Flags().GetBool("small")
		charsPerToken := 0
		if small {
			charsPerToken = card.SmallVocabCharsPerToken
		}

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		tokens, divisor, err := a.EstimateTokens(args[0], charsPerToken)
		if err != nil {
			return err
		}
		fmt.Printf("~%d tokens (%d chars per token)\n", tokens, divisor)
		return nil
	},
}

// set command
var setCmd = &cobra.Command{
	Use:   "set CARD FIELD=VALUE...",
	Short: "Set card fields",
	Long:  "Set card fields. Tags are comma separated. Fields: " + strings.Join(app.Fields(), ", "),
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.SetFields(args[0], values); err != nil {
			return err
		}
		fmt.Printf("Updated %d field(s)\n", len(values))
		return nil
	},
}

// path command
var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Read or edit any value of the card JSON by dotted path",
}

var pathGetCmd = &cobra.Command{
	Use:   "get CARD PATH",
	Short: "Print the JSON at a path, e.g. data.character_book.entries.0.keys",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		raw, ok, err := a.GetPath(args[0], args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no value at %s", args[1])
		}
		fmt.Println(raw)
		return nil
	},
}

var pathSetCmd = &cobra.Command{
	Use:   "set CARD PATH JSON",
	Short: "Store a JSON value at a path",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.SetPath(args[0], args[1], []byte(args[2])); err != nil {
			return err
		}
		fmt.Printf("Set %s\n", args[1])
		return nil
	},
}

var pathDeleteCmd = &cobra.Command{
	Use:   "delete CARD PATH",
	Short: "Remove the value at a path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.DeletePath(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[1])
		return nil
	},
}

// book command
var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Edit the card's character book",
}

var bookAddEntryCmd = &cobra.Command{
	Use:   "add-entry CARD CONTENT",
	Short: "Append a lore entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		keys, _ := flags.GetString("keys")
		secondary, _ := flags.GetString("secondary-keys")
		name, _ := flags.GetString("name")
		comment, _ := flags.GetString("comment")
		disabled, _ := flags.GetBool("disabled")
		order, _ := flags.GetFloat64("order")
		constant, _ := flags.GetString("constant")
		selective, _ := flags.GetString("selective")
		caseSensitive, _ := flags.GetString("case-sensitive")
		position, _ := flags.GetString("position")

		entry := card.NewEntry(card.SplitKeys(keys), args[1])
		entry.SecondaryKeys = card.SplitKeys(secondary)
		entry.Name = name
		entry.Comment = comment
		entry.Enabled = !disabled
		entry.InsertionOrder = order

		var err error
		if entry.Constant, err = card.ParseTristate(constant); err != nil {
			return err
		}
		if entry.Selective, err = card.ParseTristate(selective); err != nil {
			return err
		}
		if entry.CaseSensitive, err = card.ParseTristate(caseSensitive); err != nil {
			return err
		}
		if entry.Position, err = card.ParsePosition(position); err != nil {
			return err
		}

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.AddBookEntry(args[0], entry)
		if err != nil {
			return err
		}
		fmt.Printf("Character book now has %d entries\n", len(doc.Card.Data.CharacterBook.Entries))
		return nil
	},
}

// worldbook command
var worldbookCmd = &cobra.Command{
	Use:   "worldbook",
	Short: "Work with standalone worldbooks",
}

var worldbookImportCmd = &cobra.Command{
	Use:   "import CARD WORLDBOOK",
	Short: "Merge a worldbook's entries into the card's character book",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.ImportWorldbook(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d entries\n", n)
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export CARD [OUT.json]",
	Short: "Write the card as JSON",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		out := strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".json"
		if len(args) > 1 {
			out = args[1]
		}
		if err := a.ExportJSON(args[0], out); err != nil {
			return err
		}
		fmt.Printf("Exported %s\n", out)
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import JSON IMAGE",
	Short: "Create a card from a JSON file inside a copy of an image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		repair, _ := cmd.Flags().GetBool("repair")

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.ImportJSON(args[0], args[1], out, repair)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s\n", doc.Path)
		return nil
	},
}

// attach command
var attachCmd = &cobra.Command{
	Use:   "attach CARD IMAGE",
	Short: "Copy a card into a copy of another image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.Attach(args[0], args[1], out)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s\n", doc.Path)
		return nil
	},
}

// image command
var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage card images",
}

var imageSwapCmd = &cobra.Command{
	Use:   "swap CARD IMAGE",
	Short: "Replace the picture of a card, keeping its data",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SwapImage(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Swapped image of %s\n", args[0])
		return nil
	},
}

// library command
var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Index and browse a directory of cards",
}

var libraryScanCmd = &cobra.Command{
	Use:   "scan [DIR]",
	Short: "Index the cards in a directory (default: library.dir)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		result, err := a.ScanLibrary(dir)
		if err != nil {
			return err
		}

		counts := map[string]int{}
		for _, row := range result.Cards {
			counts[row.Status]++
		}
		statuses := make([]string, 0, len(counts))
		for status, n := range counts {
			statuses = append(statuses, fmt.Sprintf("%d %s", n, status))
		}
		sort.Strings(statuses)
		fmt.Printf("Indexed %d file(s): %s\n", len(result.Cards), strings.Join(statuses, ", "))
		if result.Removed > 0 {
			fmt.Printf("Removed %d missing file(s)\n", result.Removed)
		}
		return nil
	},
}

var libraryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.ListLibrary(tag)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No cards indexed.")
			return nil
		}

		out := make([][]string, 0, len(rows))
		for _, r := range rows {
			out = append(out, []string{r.Name, strings.Join(r.Tags, ", "), strconv.Itoa(r.Tokens), r.Status, r.Path})
		}
		fmt.Println(renderTable(os.Stdout,
			[]string{"Name", "Tags", "Tokens", "Status", "Path"}, out,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
		return nil
	},
}

// snapshots command
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots CARD",
	Short: "List stored previous versions of a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Snapshots(args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			encrypted := ""
			if e.Encrypted {
				encrypted = "yes"
			}
			rows = append(rows, []string{
				shortSum(e.Checksum),
				e.TakenAt.Local().Format("2006-01-02 15:04:05"),
				strconv.FormatInt(e.Size, 10),
				encrypted,
			})
		}
		fmt.Println(renderTable(os.Stdout,
			[]string{"Checksum", "Taken", "Size", "Encrypted"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore CARD [CHECKSUM]",
	Short: "Write a stored version of a card next to it",
	Long:  "Write a stored version of a card next to it. CHECKSUM may be a prefix; without it the newest snapshot is used.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		checksum := ""
		if len(args) > 1 {
			checksum = args[1]
		}
		out, err := a.RestoreSnapshot(args[0], checksum, func() (string, error) {
			return readPassphrase("Passphrase: ")
		})
		if err != nil {
			return err
		}
		fmt.Printf("Restored to %s\n", out)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-18s  %s  %-8s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("library", "", "Directory holding your cards")
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	pathCmd.AddCommand(pathGetCmd)
	pathCmd.AddCommand(pathSetCmd)
	pathCmd.AddCommand(pathDeleteCmd)

	bookCmd.AddCommand(bookAddEntryCmd)
	f := bookAddEntryCmd.Flags()
	f.String("keys", "", "Comma-separated trigger keys")
	f.String("secondary-keys", "", "Comma-separated secondary keys")
	f.String("name", "", "Entry name")
	f.String("comment", "", "Entry comment")
	f.Bool("disabled", false, "Add the entry disabled")
	f.Float64("order", 0, "Insertion order")
	f.String("constant", "", "true, false or unset")
	f.String("selective", "", "true, false or unset")
	f.String("case-sensitive", "", "true, false or unset")
	f.String("position", "", "before_char, after_char or unset")

	worldbookCmd.AddCommand(worldbookImportCmd)
	imageCmd.AddCommand(imageSwapCmd)

	libraryCmd.AddCommand(libraryScanCmd)
	libraryCmd.AddCommand(libraryListCmd)
	libraryListCmd.Flags().StringP("tag", "t", "", "Only cards carrying this tag")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringP("out", "o", "", "Output PNG (default: named after the card, next to IMAGE)")
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().Bool("json", false, "Print the card as JSON")
	showCmd.Flags().Bool("meta", false, "List the PNG text entries")
	rootCmd.AddCommand(tokensCmd)
	tokensCmd.Flags().Bool("small", false, "Assume a small-vocabulary tokenizer (4 chars per token)")
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(pathCmd)
	rootCmd.AddCommand(bookCmd)
	rootCmd.AddCommand(worldbookCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringP("out", "o", "", "Output PNG (default: named after the card, next to IMAGE)")
	importCmd.Flags().Bool("repair", false, "Repair damaged JSON before importing")
	rootCmd.AddCommand(attachCmd)
	attachCmd.Flags().StringP("out", "o", "", "Output PNG (default: named after the card, next to IMAGE)")
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(libraryCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
