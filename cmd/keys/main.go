package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/hellojohn-keys/internal/bootstrap"
	"github.com/dropDatabas3/hellojohn-keys/internal/config"
	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	"github.com/dropDatabas3/hellojohn-keys/internal/keymanager"
	"github.com/dropDatabas3/hellojohn-keys/internal/observability/logger"
	"github.com/dropDatabas3/hellojohn-keys/internal/security/secretbox"
)

type cli struct {
	configPath string
	envFile    string
	out        string
	timeout    time.Duration
}

func main() {
	c := &cli{}

	root := &cobra.Command{
		Use:           "keys",
		Short:         "Operación de las claves de firma de HelloJohn",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.envFile != "" {
				_ = godotenv.Load(c.envFile)
			}
			logger.Init(logger.Config{Env: "dev", Level: envOr("LOG_LEVEL", "warn")})
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", envOr("HELLOJOHN_CONFIG", ""), "ruta a config.yaml (env HELLOJOHN_CONFIG)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "ruta a .env")
	root.PersistentFlags().StringVar(&c.out, "out", envOr("HELLOJOHN_OUT", "text"), "formato de salida: json|text")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", time.Minute, "timeout de la operación")

	root.AddCommand(
		c.listCmd(),
		c.currentCmd(),
		c.jwksCmd(),
		c.pruneCmd(),
		c.verifyCmd(),
		genMasterKeyCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func (c *cli) open(ctx context.Context) (*bootstrap.KeyServices, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.Load(c.configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return bootstrap.OpenKeys(ctx, cfg, logger.L())
}

func (c *cli) withKeys(fn func(ctx context.Context, ks *bootstrap.KeyServices) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	ks, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer ks.Close()
	return fn(ctx, ks)
}

type keyRow struct {
	ID        string    `json:"id"`
	Algorithm string    `json:"alg"`
	X509      bool      `json:"x509"`
	Created   time.Time `json:"created"`
	Age       string    `json:"age"`
	State     string    `json:"state"`
	Protected bool      `json:"protected"`
}

// listCmd lee el store directo: no crea claves y muestra también las
// retiradas y las que no se pueden abrir.
func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lista las claves del store con su estado",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withKeys(func(ctx context.Context, ks *bootstrap.KeyServices) error {
				records, err := ks.Conn.Keys().LoadAll(ctx)
				if err != nil {
					return err
				}
				now := time.Now().UTC()

				var live []*jwt.KeyContainer
				decoded := make(map[string]*jwt.KeyContainer, len(records))
				for _, r := range records {
					if k, err := ks.Protector.Unprotect(r); err == nil {
						decoded[r.ID] = k
						live = append(live, k)
					}
				}

				rows := make([]keyRow, 0, len(records))
				for _, r := range records {
					state := "unreadable"
					if k, ok := decoded[r.ID]; ok {
						state = string(ks.Manager.State(live, k))
					}
					rows = append(rows, keyRow{
						ID:        r.ID,
						Algorithm: r.Algorithm,
						X509:      r.IsX509Certificate,
						Created:   r.Created,
						Age:       now.Sub(r.Created).Truncate(time.Second).String(),
						State:     state,
						Protected: r.DataProtected,
					})
				}

				if c.out == "json" {
					return printJSON(rows)
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KID\tALG\tX509\tCREATED\tAGE\tSTATE\tPROTECTED")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\t%t\n",
						r.ID, r.Algorithm, r.X509, r.Created.Format(time.RFC3339), r.Age, r.State, r.Protected)
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) currentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Muestra la clave de firma actual por algoritmo (la crea si falta)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withKeys(func(ctx context.Context, ks *bootstrap.KeyServices) error {
				current, err := ks.Manager.CurrentSigningKeys(ctx)
				if err != nil {
					return err
				}
				now := time.Now().UTC()
				rows := make([]keyRow, 0, len(current))
				for _, k := range current {
					rows = append(rows, keyRow{
						ID:        k.ID(),
						Algorithm: k.Algorithm(),
						X509:      k.HasX509Certificate(),
						Created:   k.Created(),
						Age:       k.Age(now).Truncate(time.Second).String(),
						State:     string(keymanager.StateCurrent),
					})
				}
				if c.out == "json" {
					return printJSON(rows)
				}
				for _, r := range rows {
					fmt.Printf("%s\t%s\tcreated=%s\tage=%s\n", r.Algorithm, r.ID, r.Created.Format(time.RFC3339), r.Age)
				}
				return nil
			})
		},
	}
}

func (c *cli) jwksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jwks",
		Short: "Imprime el JWKS público (todas las claves no retiradas)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withKeys(func(ctx context.Context, ks *bootstrap.KeyServices) error {
				all, err := ks.Manager.AllKeys(ctx)
				if err != nil {
					return err
				}
				b, err := jwt.BuildJWKS(all)
				if err != nil {
					return err
				}
				var v any
				_ = json.Unmarshal(b, &v)
				return printJSON(v)
			})
		},
	}
}

func (c *cli) pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Borra del store las claves retiradas (aunque no se puedan descifrar)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withKeys(func(ctx context.Context, ks *bootstrap.KeyServices) error {
				n, err := ks.Manager.PruneRetired(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("deleted %d retired keys\n", n)
				return nil
			})
		},
	}
}

// verifyCmd valida un JWT contra el conjunto de validación actual.
func (c *cli) verifyCmd() *cobra.Command {
	var issuer string
	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Valida la firma de un JWT con las claves no retiradas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withKeys(func(ctx context.Context, ks *bootstrap.KeyServices) error {
				all, err := ks.Manager.AllKeys(ctx)
				if err != nil {
					return err
				}
				claims, err := jwt.Parse(args[0], all, issuer)
				if err != nil {
					return err
				}
				return printJSON(claims)
			})
		},
	}
	cmd.Flags().StringVar(&issuer, "issuer", "", "iss esperado (vacío no lo chequea)")
	return cmd
}

func genMasterKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-master-key",
		Short: "Genera una clave maestra para SIGNING_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := secretbox.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Printf("SIGNING_MASTER_KEY=%s\n", k)
			fmt.Fprintln(os.Stderr, "al rotarla, mové la anterior a SIGNING_MASTER_KEYS_PREVIOUS")
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
