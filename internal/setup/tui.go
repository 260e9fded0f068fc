// Package setup hosts the first-run terminal wizard that generates a yaml
// config when the bot is started without one.
package setup

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/quoter/config"
)

// GeneratedConfigFile is where the wizard saves its result.
const GeneratedConfigFile = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1)
)

// RunTUI walks the operator through a market-maker setup and writes the
// resulting config to GeneratedConfigFile.
func RunTUI() error {
	var (
		venue     string
		pair      string
		accessKey string
		secretKey string
		confirm   bool
	)

	// defaults
	operativeAmount := "100"
	minWall := "100"
	maxWall := "1000"
	minDifference := "0.0005"
	minOrderAmount := "5"
	pricePrecision := "3"

	clearScreen()
	fmt.Println(headerStyle.Render("QUOTER CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Market making on autopilot.\n"))

	fmt.Println(stepStyle.Render("STEP 1: VENUE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Exchange").
				Options(
					huh.NewOption("Bitfinex", "bitfinex"),
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
				).
				Value(&venue),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen()
	fmt.Println(headerStyle.Render("QUOTER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: CREDENTIALS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API Key").
				Value(&accessKey),
			huh.NewInput().
				Title("API Secret").
				Value(&secretKey).
				EchoMode(huh.EchoModePassword),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen()
	fmt.Println(headerStyle.Render("QUOTER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: MARKET"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pair").
				Description("Must contain underscore (e.g. XRP_USD)").
				Value(&pair).
				Validate(func(s string) error {
					_, err := config.PairFromString(s)
					return err
				}),
			huh.NewInput().
				Title("Operative Amount").
				Description("Base asset amount the bot trades with").
				Value(&operativeAmount).
				Validate(validateDecimal),
			huh.NewInput().
				Title("Min Wall Volume").
				Value(&minWall).
				Validate(validateDecimal),
			huh.NewInput().
				Title("Max Wall Volume").
				Value(&maxWall).
				Validate(validateDecimal),
			huh.NewInput().
				Title("Min Profit Margin").
				Description("Required distance between buy and sell price").
				Value(&minDifference).
				Validate(validateDecimal),
			huh.NewInput().
				Title("Min Order Amount").
				Description("Remainders below this are cancelled as dust").
				Value(&minOrderAmount).
				Validate(validateDecimal),
			huh.NewInput().
				Title("Price Precision").
				Description("Decimal places the venue accepts").
				Value(&pricePrecision),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen()
	fmt.Println(headerStyle.Render("QUOTER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Venue: %s\nPair: %s\nOperative amount: %s\nWall: %s..%s\nMargin: %s\n",
		venue, pair, operativeAmount, minWall, maxWall, minDifference,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	var precision int32
	if p, err := decimal.NewFromString(pricePrecision); err == nil {
		precision = int32(p.IntPart())
	}

	cfgTmp := config.ConfigTmp{
		Strategy: config.StrategyMaker,
		Venue: config.VenueTmp{
			Name:           venue,
			Pair:           pair,
			AccessKey:      accessKey,
			SecretKey:      secretKey,
			PricePrecision: precision,
		},
		OperativeAmount: operativeAmount,
		MinWall:         minWall,
		MaxWall:         maxWall,
		MinDifference:   minDifference,
		MinOrderAmount:  minOrderAmount,
	}

	data, err := yaml.Marshal([]config.ConfigTmp{cfgTmp})
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(GeneratedConfigFile, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ Configuration saved to %s\nStarting bot...", GeneratedConfigFile)))
	time.Sleep(1500 * time.Millisecond)
	return nil
}

func validateDecimal(s string) error {
	if _, err := decimal.NewFromString(s); err != nil {
		return fmt.Errorf("must be a valid number")
	}
	return nil
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}
