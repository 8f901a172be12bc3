package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	orchestration "github.com/brightboard/tutor-core/core"
	"github.com/brightboard/tutor-core/core/llms/groq"
	"github.com/brightboard/tutor-core/core/mcp"
	"github.com/brightboard/tutor-core/core/texttospeech"
	"github.com/brightboard/tutor-core/core/texttospeech/deepgram"
	"github.com/brightboard/tutor-core/core/transport"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tutord",
	Short: "Streaming tutoring server",
	Long: `tutord answers student questions as streamed turns: narrated
sentences with synthesized audio, canvas objects produced by tool
servers, and a terminal event per turn.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default tutord.yaml)")
	rootCmd.Flags().String("listen", ":8700", "address to serve on")
	rootCmd.Flags().String("model", "llama-3.3-70b-versatile", "model for answering")
	rootCmd.Flags().String("voice", string(deepgram.VoiceAsteria), "synthesis voice")
	viper.BindPFlag("listen", rootCmd.Flags().Lookup("listen"))
	viper.BindPFlag("model", rootCmd.Flags().Lookup("model"))
	viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("tutord")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/tutord")
	}

	viper.SetEnvPrefix("TUTOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

type serverConfig struct {
	Listen         string            `mapstructure:"listen"`
	Model          string            `mapstructure:"model"`
	Voice          string            `mapstructure:"voice"`
	GroqAPIKey     string            `mapstructure:"groq_api_key"`
	DeepgramAPIKey string            `mapstructure:"deepgram_api_key"`
	ToolServers    []toolServerEntry `mapstructure:"tool_servers"`
	Brains         []brainEntry      `mapstructure:"brains"`
	Intros         []introEntry      `mapstructure:"intros"`
}

type toolServerEntry struct {
	ID      string   `mapstructure:"id"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

type brainEntry struct {
	Type         string   `mapstructure:"type"`
	Name         string   `mapstructure:"name"`
	Instructions string   `mapstructure:"instructions"`
	Servers      []string `mapstructure:"servers"`
	Keywords     []string `mapstructure:"keywords"`
}

type introEntry struct {
	Category string `mapstructure:"category"`
	Text     string `mapstructure:"text"`
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var config serverConfig
	if err := viper.Unmarshal(&config); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if config.GroqAPIKey == "" {
		return fmt.Errorf("groq_api_key is required (TUTOR_GROQ_API_KEY)")
	}

	opts := []orchestration.OrchestratorOption{
		orchestration.WithBaseContext(ctx),
	}

	var synthesizer texttospeech.Synthesizer
	if config.DeepgramAPIKey != "" {
		client, err := deepgram.NewSynthesisClient(config.DeepgramAPIKey, deepgram.Voice(config.Voice))
		if err != nil {
			return fmt.Errorf("failed to set up synthesis: %w", err)
		}
		synthesizer = client
		opts = append(opts, orchestration.WithSynthesizer(synthesizer))
	}

	registry, cleanup, err := connectToolServers(ctx, config.ToolServers)
	if err != nil {
		return err
	}
	defer cleanup()
	opts = append(opts, orchestration.WithToolSource(registry))

	if selector := buildBrainSelector(config.Brains); selector != nil {
		opts = append(opts, orchestration.WithBrainSelector(selector))
	}
	if store := buildIntroStore(ctx, config, synthesizer); store != nil {
		opts = append(opts, orchestration.WithIntroStore(store))
	}

	orchestrator, err := orchestration.NewOrchestrator(
		groq.NewClient(config.GroqAPIKey, config.Model), opts...)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    config.Listen,
		Handler: transport.NewServer(orchestrator).Handler(),
	}
	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	fmt.Fprintln(os.Stderr, "listening on", config.Listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// connectToolServers launches each configured tool server as a child
// process and completes the handshake over its stdio.
func connectToolServers(ctx context.Context, entries []toolServerEntry) (*mcp.Registry, func(), error) {
	registry := mcp.NewRegistry()
	var commands []*exec.Cmd

	cleanup := func() {
		for _, command := range commands {
			if command.Process != nil {
				command.Process.Kill()
			}
		}
	}

	for _, entry := range entries {
		command := exec.CommandContext(ctx, entry.Command, entry.Args...)
		command.Stderr = os.Stderr

		stdin, err := command.StdinPipe()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to pipe stdin for %s: %w", entry.ID, err)
		}
		stdout, err := command.StdoutPipe()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to pipe stdout for %s: %w", entry.ID, err)
		}
		if err := command.Start(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to start tool server %s: %w", entry.ID, err)
		}
		commands = append(commands, command)

		conn := mcp.NewConn(entry.ID, stdioPipe{Reader: stdout, Writer: stdin})
		if err := conn.Initialize(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to initialize tool server %s: %w", entry.ID, err)
		}
		registry.Register(conn)
	}

	return registry, cleanup, nil
}

type stdioPipe struct {
	io.Reader
	io.Writer
}

func buildBrainSelector(entries []brainEntry) orchestration.BrainSelector {
	if len(entries) == 0 {
		return nil
	}

	brains := make([]orchestration.Brain, 0, len(entries))
	keywords := map[string][]string{}
	for _, entry := range entries {
		brains = append(brains, orchestration.Brain{
			Type:         entry.Type,
			Name:         entry.Name,
			Instructions: entry.Instructions,
			ServerIDs:    entry.Servers,
		})
		keywords[entry.Type] = entry.Keywords
	}

	defaultBrain := orchestration.Brain{Type: "general", Name: "General Tutor"}
	return orchestration.NewKeywordBrainSelector(defaultBrain, brains, keywords)
}

// buildIntroStore pre-synthesizes configured intro phrases at boot so
// they are ready to play the instant a turn starts.
func buildIntroStore(ctx context.Context, config serverConfig, synthesizer texttospeech.Synthesizer) orchestration.IntroStore {
	if len(config.Intros) == 0 {
		return nil
	}

	keywords := map[string][]string{}
	for _, brain := range config.Brains {
		keywords[brain.Type] = brain.Keywords
	}

	store := orchestration.NewKeywordIntroStore(keywords)
	for _, entry := range config.Intros {
		intro := orchestration.CachedIntro{Category: entry.Category, Text: entry.Text}
		if synthesizer != nil {
			audio, err := synthesizer.Synthesize(ctx, entry.Text)
			if err != nil {
				fmt.Fprintf(os.Stderr, "skipping intro synthesis for %q: %v\n", entry.Category, err)
			} else {
				intro.Audio = audio
			}
		}
		store.Add(intro)
	}
	return store
}
