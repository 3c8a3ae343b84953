// Package bootstrap wires configuration into a ready assistant and session
// store. Both binaries share it.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/abhirockzz/cosmosdb-go-sdk-helper/auth"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"company-assistant/internal/config"
	"company-assistant/internal/credential"
	"company-assistant/internal/integrations/gemini"
	"company-assistant/internal/integrations/langchain"
	"company-assistant/internal/integrations/openai"
	"company-assistant/internal/integrations/paramstore"
	"company-assistant/internal/knowledge"
	"company-assistant/internal/repository"
	"company-assistant/internal/usecase"
)

// credentialTTL bounds how long an SSM-held key is cached.
const credentialTTL = 5 * time.Minute

// App holds everything a front end needs.
type App struct {
	Assistant *usecase.Assistant
	Store     usecase.HistoryStore
}

// Build constructs the App described by cfg. AWS configuration is loaded only
// when SSM or DynamoDB is in use.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("bootstrap: load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	var params paramstore.Getter
	if cfg.CredentialSource == config.CredentialSSM || cfg.KnowledgeParam != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		client, err := paramstore.New(awsssm.NewFromConfig(c))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create SSM client: %w", err)
		}
		params = client
	}

	src, err := credentialSource(cfg, params)
	if err != nil {
		return nil, err
	}
	kc, err := loadKnowledge(ctx, cfg, params)
	if err != nil {
		return nil, err
	}
	transport, err := buildTransport(cfg, src)
	if err != nil {
		return nil, err
	}

	assistant, err := usecase.BuildAssistant(ctx, usecase.Options{
		Credential:  src,
		Transport:   transport,
		Knowledge:   kc,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg, loadAWS)
	if err != nil {
		return nil, err
	}
	return &App{Assistant: assistant, Store: store}, nil
}

func credentialSource(cfg *config.Config, params paramstore.Getter) (credential.Source, error) {
	if cfg.CredentialSource != config.CredentialSSM {
		return credential.NewEnv(cfg.APIKeyEnv), nil
	}
	src, err := credential.NewParamStore(params, paramstore.Path(cfg.ParamPrefix, cfg.APIKeyParam), credentialTTL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: credential source: %w", err)
	}
	return src, nil
}

func loadKnowledge(ctx context.Context, cfg *config.Config, params paramstore.Getter) (knowledge.Context, error) {
	if cfg.KnowledgeParam == "" {
		kc, err := knowledge.Default()
		if err != nil {
			return knowledge.Context{}, fmt.Errorf("bootstrap: default knowledge: %w", err)
		}
		return kc, nil
	}
	kc, err := knowledge.Load(ctx, params, paramstore.Path(cfg.ParamPrefix, cfg.KnowledgeParam))
	if err != nil {
		return knowledge.Context{}, fmt.Errorf("bootstrap: load knowledge: %w", err)
	}
	return kc, nil
}

func buildTransport(cfg *config.Config, src credential.Source) (usecase.Transport, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewClient(src, openai.WithBaseURL(cfg.OpenAIBaseURL))
	case config.ProviderLangchain:
		endpoint, model := cfg.AzureOpenAIEndpoint, cfg.Model
		return langchain.NewKeyedClient(src, func(apiKey string) (llms.Model, error) {
			return lcopenai.New(
				lcopenai.WithAPIType(lcopenai.APITypeAzure),
				lcopenai.WithBaseURL(endpoint),
				lcopenai.WithToken(apiKey),
				lcopenai.WithModel(model),
				// langchaingo requires an embedding model for the Azure API type.
				lcopenai.WithEmbeddingModel("unused"),
			)
		})
	default:
		return gemini.NewClient(src)
	}
}

func buildStore(ctx context.Context, cfg *config.Config, loadAWS func() (aws.Config, error)) (usecase.HistoryStore, error) {
	switch cfg.Store {
	case config.StoreDynamoDB:
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return repository.NewDynamoStore(awsdynamodb.NewFromConfig(c), cfg.StateTable,
			repository.WithSessionTTL(cfg.SessionTTL),
			repository.WithLeaseDuration(cfg.SessionLease),
		)
	case config.StoreCosmos:
		client, err := auth.GetCosmosDBClient(cfg.CosmosEndpoint, false, nil)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create Cosmos DB client: %w", err)
		}
		container, err := repository.CosmosContainer(client, cfg.CosmosDatabaseName, cfg.CosmosContainerName)
		if err != nil {
			return nil, err
		}
		return repository.NewCosmosStore(container, cfg.SessionTTL, cfg.SessionLease)
	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create Firestore client: %w", err)
		}
		sessions, err := repository.NewFirestoreSessions(client, cfg.FirestoreCollection)
		if err != nil {
			return nil, err
		}
		return repository.NewFirestoreStore(sessions, cfg.SessionTTL, cfg.SessionLease)
	default:
		return repository.NewMemoryStore(), nil
	}
}
